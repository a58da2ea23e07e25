package entity

import (
	"crypto/rand"
	"fmt"
	"regexp"

	"github.com/rocketscienceinc/tictactoe-relay/internal/apperror"
)

const (
	// MatchmakingChannel - the one well-known waiting-queue channel.
	MatchmakingChannel = "presence-matchmaking"

	sessionIDLength   = 6
	sessionIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// NewSessionID - mints a fresh 6-character session code.
func NewSessionID() string {
	b := make([]byte, sessionIDLength)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %w", err))
	}

	for i := range b {
		b[i] = sessionIDAlphabet[int(b[i])%len(sessionIDAlphabet)]
	}

	return string(b)
}

// ValidateSessionID - checks the [A-Z0-9]{6} format.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", apperror.ErrInvalidSessionID, id)
	}

	return nil
}

// SessionChannel - derives the per-session channel name from a session id.
// Both participants compute the identical name from the id alone.
func SessionChannel(id string) string {
	return "presence-room-" + id
}
