package email

import (
	"context"

	"go.uber.org/zap"
)

// NoopSender logs emails to zap instead of delivering them.
// Use in development or when no transport is configured.
type NoopSender struct {
	logger *zap.Logger
}

// NewNoopSender creates a NoopSender backed by the given logger.
func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send logs the recipient and subject and returns nil.
func (n *NoopSender) Send(_ context.Context, to, subject, _ string) error {
	n.logger.Info("email not sent (noop transport)",
		zap.String("to", to),
		zap.String("subject", subject),
	)
	return nil
}
