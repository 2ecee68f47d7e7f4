package channel

import (
	"strings"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// Credential is either a bearer token (user/admin) or a guest identifier.
// A Credential with neither asks the gateway to mint a guest identity.
type Credential struct {
	Token   string
	GuestID string
}

// TokenCredential returns a bearer-token credential.
func TokenCredential(token string) Credential {
	return Credential{Token: strings.TrimSpace(token)}
}

// GuestCredential returns a guest credential; an empty id requests a new guest.
func GuestCredential(id string) Credential {
	return Credential{GuestID: strings.TrimSpace(id)}
}

// Guest reports whether the credential is anonymous.
func (c Credential) Guest() bool { return strings.TrimSpace(c.Token) == "" }

func (c Credential) hello() v1.HelloPayload {
	if !c.Guest() {
		return v1.HelloPayload{Token: strings.TrimSpace(c.Token)}
	}
	return v1.HelloPayload{GuestID: strings.TrimSpace(c.GuestID)}
}

// Identity is what the gateway resolved the credential to.
type Identity struct {
	SessionID string
	Role      string
	ID        string
	GuestID   string
}

// IsGuest reports whether the identity is anonymous.
func (i Identity) IsGuest() bool { return i.Role == v1.RoleGuest }
