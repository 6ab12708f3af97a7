package sessions

import (
	"context"
	"time"
)

// Session is the single logged-in client of a principal.
type Session struct {
	ID             string    // Opaque random identifier (256 bits, hex)
	PrincipalID    string    // Principal that owns this session
	CreatedAt      time.Time // Login time
	LastActivityAt time.Time // Bumped by UpdateActivity
	ClientAddress  string    // Remote address at login
	ClientAgent    string    // User agent at login
}

// IdleExpired reports whether the session has been idle longer than timeout.
// A zero timeout disables idle expiry.
func (s *Session) IdleExpired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(s.LastActivityAt) > timeout
}

// Repo stores at most one session per principal.
type Repo interface {
	// Get returns the principal's stored session, or (nil, nil) when there is none
	Get(ctx context.Context, principalID string) (*Session, error)

	// Swap stores session as the principal's only session and returns the one it replaced
	Swap(ctx context.Context, session *Session) (previous *Session, err error)

	// Delete removes the principal's session; deleting a missing session is not an error
	Delete(ctx context.Context, principalID string) error

	// Touch sets LastActivityAt; a no-op when the principal has no session
	Touch(ctx context.Context, principalID string, at time.Time) error
}
