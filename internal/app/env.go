package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envValue returns the parsed value of key, or def when the variable is unset,
// blank, or rejected by parse.
func envValue[T any](key string, def T, parse func(string) (T, bool)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, ok := parse(raw)
	if !ok {
		return def
	}
	return v
}

func EnvString(key, def string) string {
	return envValue(key, def, func(s string) (string, bool) { return s, true })
}

func EnvBool(key string, def bool) bool {
	return envValue(key, def, func(s string) (bool, bool) {
		b, err := strconv.ParseBool(s)
		return b, err == nil
	})
}

// EnvInt accepts positive values only.
func EnvInt(key string, def int) int {
	return envValue(key, def, func(s string) (int, bool) {
		n, err := strconv.Atoi(s)
		return n, err == nil && n > 0
	})
}

// EnvInt32 accepts zero, which the pool config treats as "unset".
func EnvInt32(key string, def int32) int32 {
	return envValue(key, def, func(s string) (int32, bool) {
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err == nil && n >= 0
	})
}

// EnvDuration takes Go duration syntax ("750ms", "2m"); non-positive values fall back.
func EnvDuration(key string, def time.Duration) time.Duration {
	return envValue(key, def, func(s string) (time.Duration, bool) {
		d, err := time.ParseDuration(s)
		return d, err == nil && d > 0
	})
}

// EnvCSV splits on commas and drops blank items. An all-blank list falls back.
func EnvCSV(key string, def []string) []string {
	return envValue(key, def, func(s string) ([]string, bool) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, len(out) > 0
	})
}
