// Command rtgateway serves the realtime support, notification and widget namespaces.
package main

import (
	"log"

	"github.com/cambiartech/buykoins-realtime/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
