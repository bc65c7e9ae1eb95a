// Package email delivers account notifications.
package email

import "context"

// Sender delivers transactional email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
