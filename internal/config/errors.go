package config

import (
	"fmt"
	"strings"
)

// Error is a configuration failure. It is fatal and reported before a phase
// does any work.
type Error struct {
	Mode   string
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: invalid configuration %s: %s (set %s)", e.Mode, e.Key, e.Reason, EnvName(e.Key))
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func missing(mode, key, what string) *Error {
	return &Error{Mode: mode, Key: key, Reason: what + " is required"}
}
