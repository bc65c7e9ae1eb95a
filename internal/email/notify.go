package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/picshare/internal/users"
)

// LinkNotifier tells account owners when a social login is linked to or
// removed from their account.
type LinkNotifier struct {
	sender Sender
	now    func() time.Time
}

// NewLinkNotifier creates a LinkNotifier.
func NewLinkNotifier(sender Sender) *LinkNotifier {
	return &LinkNotifier{sender: sender, now: time.Now}
}

// ProviderLinked notifies a that provider was linked.
func (n *LinkNotifier) ProviderLinked(ctx context.Context, a *users.Account, provider string) error {
	body := fmt.Sprintf(
		"Hello %s,\n\nYour %s account was linked to your picshare account on %s.\nYou can now sign in with %s.\n\nIf this was not you, unlink it from your account settings and change your password.\n",
		a.DisplayName, providerTitle(provider), n.now().UTC().Format(time.RFC1123), providerTitle(provider),
	)
	return n.send(ctx, a, fmt.Sprintf("%s login linked to your picshare account", providerTitle(provider)), body)
}

// ProviderUnlinked notifies a that provider was removed.
func (n *LinkNotifier) ProviderUnlinked(ctx context.Context, a *users.Account, provider string) error {
	body := fmt.Sprintf(
		"Hello %s,\n\nYour %s account was unlinked from your picshare account on %s.\nYou can no longer sign in with %s.\n",
		a.DisplayName, providerTitle(provider), n.now().UTC().Format(time.RFC1123), providerTitle(provider),
	)
	return n.send(ctx, a, fmt.Sprintf("%s login removed from your picshare account", providerTitle(provider)), body)
}

// send skips placeholder addresses of accounts whose provider shared no email.
func (n *LinkNotifier) send(ctx context.Context, a *users.Account, subject, body string) error {
	if strings.HasSuffix(a.Email, ".local") {
		return nil
	}
	return n.sender.Send(ctx, a.Email, subject, body)
}

func providerTitle(provider string) string {
	switch provider {
	case "github":
		return "GitHub"
	case "":
		return provider
	default:
		return strings.ToUpper(provider[:1]) + provider[1:]
	}
}
