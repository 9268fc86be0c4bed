// ABOUTME: Resync trigger fired after a wallet joins a corporation
// ABOUTME: Defines the Notifier interface plus log-only and debouncing implementations

package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/corp-gateway/internal/dedupe"
)

// Options tune a notification.
type Options struct {
	// ForceResync asks the consumer to re-read on-chain holdings even if its
	// cache is fresh.
	ForceResync bool

	// GroupID is the corporation the wallet now belongs to.
	GroupID string
}

// Notifier tells downstream systems that a wallet's corporation changed.
type Notifier interface {
	NotifyWalletLinked(ctx context.Context, wallet string, opts Options) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, wallet string, opts Options) error

// NotifyWalletLinked calls f.
func (f Func) NotifyWalletLinked(ctx context.Context, wallet string, opts Options) error {
	return f(ctx, wallet, opts)
}

// LogNotifier only logs. It is used when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: slog.Default().With("component", "notify")}
}

// NotifyWalletLinked logs the resync request.
func (n *LogNotifier) NotifyWalletLinked(_ context.Context, wallet string, opts Options) error {
	n.logger.Info("wallet linked, resync requested", "wallet", wallet, "group_id", opts.GroupID, "force", opts.ForceResync)
	return nil
}

// Debounced drops notifications for a wallet already notified about the same
// group within the window. A link into a different group is always sent, and
// a failed notification is forgotten so the next one is sent.
type Debounced struct {
	next   Notifier
	seen   *dedupe.Cache
	logger *slog.Logger
}

// maxTracked bounds the wallets remembered by a Debounced notifier.
const maxTracked = 10000

// NewDebounced wraps next. A window of zero or less disables debouncing and
// returns next unchanged.
func NewDebounced(next Notifier, window time.Duration, opts ...dedupe.Option) Notifier {
	if window <= 0 {
		return next
	}
	return &Debounced{
		next:   next,
		seen:   dedupe.New(window, maxTracked, opts...),
		logger: slog.Default().With("component", "notify"),
	}
}

// NotifyWalletLinked forwards to the wrapped notifier unless the same wallet
// and group were notified within the window.
func (d *Debounced) NotifyWalletLinked(ctx context.Context, wallet string, opts Options) error {
	key := wallet + "\x00" + opts.GroupID
	if d.seen.CheckAndMark(key) {
		d.logger.Debug("resync debounced", "wallet", wallet, "group_id", opts.GroupID)
		return nil
	}
	if err := d.next.NotifyWalletLinked(ctx, wallet, opts); err != nil {
		d.seen.Forget(key)
		return err
	}
	return nil
}

// Close stops the debounce cache.
func (d *Debounced) Close() error {
	d.seen.Close()
	return nil
}
