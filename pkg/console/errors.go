package console

import (
	"errors"
	"fmt"

	"github.com/newtron-network/newtval/pkg/util"
)

var (
	// ErrAuthFailed is matched by every AuthError.
	ErrAuthFailed = errors.New("console login failed")
	// ErrPortInUse is matched by every PortInUseError.
	ErrPortInUse = errors.New("console port in use")
	// ErrClosed is returned by operations on a session after Close.
	ErrClosed = errors.New("console session closed")
)

// Reasons carried by AuthError.
const (
	ReasonIncorrect = "login incorrect"
	ReasonEOF       = "connection closed by console server"
	ReasonNoPrompt  = "no shell prompt"
	ReasonOuterAuth = "console server rejected credentials"
)

// ConfigError reports a session that cannot be constructed.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("console: %s is not set", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return util.ErrInvalidConfig
}

// PortInUseError is returned when the console server refuses the line
// because another session holds it. Callers may retry on another line;
// it never matches ErrAuthFailed.
type PortInUseError struct {
	Host string
	Port int
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("console %s closed connection, as console port '%d' is currently occupied", e.Host, e.Port)
}

func (e *PortInUseError) Unwrap() error {
	return ErrPortInUse
}

// AuthError is a failed login stage.
type AuthError struct {
	Host   string
	User   string
	Reason string
	// Transcript is everything read from the console during the attempt.
	Transcript string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login failed: %s (user %s): %s", e.Host, e.User, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return ErrAuthFailed
}
