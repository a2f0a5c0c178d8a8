package presence

import (
	"context"
	"time"
)

// Store tracks which users currently hold at least one open connection.
// Implementations must reference-count connections so a user with several
// devices stays online until the last one disconnects.
type Store interface {
	// Connect records a new connection for userID and reports whether it
	// is the user's first live connection.
	Connect(ctx context.Context, userID string) (first bool, err error)
	// Disconnect removes one connection for userID and reports whether it
	// was the user's last live connection.
	Disconnect(ctx context.Context, userID string) (last bool, err error)
	OnlineUsers(ctx context.Context) ([]string, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	// Touch records advisory last-activity for userID. No eviction is
	// derived from it.
	Touch(ctx context.Context, userID string) error
	LastActive(ctx context.Context, userID string) (time.Time, error)
	Close() error
}
