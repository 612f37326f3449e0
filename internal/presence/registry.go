// Package presence maps a user identity to the live connection that most recently registered for it.
package presence

import "context"

// Registry tracks at most one live connection per user.
//
// Register overwrites any prior entry for the user. Unregister removes the
// entry whose value is the given connection, and leaves a newer registration
// for the same user untouched. Touch extends the lifetime of the entry held
// by connectionID on backends that expire entries; it is a no-op when the
// user has since registered another connection.
type Registry interface {
	Register(ctx context.Context, userID, connectionID string) error
	Lookup(ctx context.Context, userID string) (string, bool, error)
	Touch(ctx context.Context, connectionID string) error
	Unregister(ctx context.Context, connectionID string) error
}
