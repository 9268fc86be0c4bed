// ABOUTME: Issues single-use signing challenges and builds the exact message wallets sign
// ABOUTME: Also runs the periodic cleanup of expired challenges

package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/2389/corp-gateway/internal/metrics"
	"github.com/2389/corp-gateway/internal/ratelimit"
	"github.com/2389/corp-gateway/internal/store"
)

const (
	// DefaultTTL is how long a challenge stays valid.
	DefaultTTL = 5 * time.Minute

	// DefaultApplicationName is embedded in every signing message.
	DefaultApplicationName = "Mek Tycoon"

	// NonceLength is the number of characters in a nonce.
	NonceLength = 32

	nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// timestampLayout renders UTC times with millisecond precision and a Z suffix.
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

var (
	// ErrRateLimited is returned while a wallet is locked out after too many
	// failed signatures.
	ErrRateLimited = errors.New("too many failed attempts for this wallet; try again later")

	// ErrInvalidWallet is returned for an empty or malformed wallet address.
	ErrInvalidWallet = errors.New("invalid wallet address")
)

// Message is the exact text a wallet signs for nonce. Verification only
// succeeds against a byte-for-byte reproduction of it.
func Message(nonce, applicationName string, createdAt time.Time) string {
	return fmt.Sprintf(
		"Please sign this message to verify ownership of your wallet:\n\nNonce: %s\nApplication: %s\nTimestamp: %s",
		nonce, applicationName, createdAt.UTC().Format(timestampLayout),
	)
}

// GenerateNonce returns NonceLength random alphanumeric characters.
func GenerateNonce() (string, error) {
	size := big.NewInt(int64(len(nonceAlphabet)))
	var b strings.Builder
	b.Grow(NonceLength)
	for i := 0; i < NonceLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generating nonce: %w", err)
		}
		b.WriteByte(nonceAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Options configures an Issuer.
type Options struct {
	TTL             time.Duration
	ApplicationName string
	// Failures counts failed signatures per wallet. A locked out wallet
	// gets no new challenge.
	Failures *ratelimit.Limiter
	// Normalize turns a wallet address into its stored form. Nil only trims.
	Normalize func(string) (string, error)
	Metrics   *metrics.Metrics
	Now       func() time.Time
	Logger    *slog.Logger
}

// Issuer creates challenges in a ChallengeStore.
type Issuer struct {
	store     store.ChallengeStore
	ttl       time.Duration
	app       string
	failures  *ratelimit.Limiter
	normalize func(string) (string, error)
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// NewIssuer creates an Issuer.
func NewIssuer(s store.ChallengeStore, opts Options) *Issuer {
	i := &Issuer{
		store:     s,
		ttl:       opts.TTL,
		app:       opts.ApplicationName,
		failures:  opts.Failures,
		normalize: opts.Normalize,
		metrics:   opts.Metrics,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if i.ttl <= 0 {
		i.ttl = DefaultTTL
	}
	if i.app == "" {
		i.app = DefaultApplicationName
	}
	if i.now == nil {
		i.now = time.Now
	}
	if i.logger == nil {
		i.logger = slog.Default().With("component", "challenge")
	}
	return i
}

// ApplicationName returns the name embedded in messages.
func (i *Issuer) ApplicationName() string {
	return i.app
}

// Request asks for a challenge for one wallet.
type Request struct {
	WalletAddress string
	WalletName    string
	Origin        string
}

// Issued is a new challenge and the message to sign.
type Issued struct {
	Nonce     string
	Message   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Issue creates a challenge for req.WalletAddress, replacing any unused one.
// The challenge is stored under the normalized address.
func (i *Issuer) Issue(ctx context.Context, req Request) (*Issued, error) {
	wallet := strings.TrimSpace(req.WalletAddress)
	if wallet == "" {
		return nil, ErrInvalidWallet
	}
	if i.normalize != nil {
		canonical, err := i.normalize(wallet)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWallet, err)
		}
		wallet = canonical
	}

	now := i.now().UTC().Truncate(time.Millisecond)
	if i.failures.Blocked(wallet, now) {
		i.metrics.ChallengeRateLimited()
		i.logger.Warn("challenge refused, wallet locked out", "wallet", wallet)
		return nil, ErrRateLimited
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	c := &store.Challenge{
		Nonce:         nonce,
		WalletAddress: wallet,
		WalletName:    req.WalletName,
		Origin:        req.Origin,
		CreatedAt:     now,
		ExpiresAt:     now.Add(i.ttl),
	}
	if err := i.store.CreateChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("storing challenge: %w", err)
	}
	i.metrics.ChallengeIssued()

	return &Issued{
		Nonce:     nonce,
		Message:   Message(nonce, i.app, now),
		CreatedAt: now,
		ExpiresAt: c.ExpiresAt,
	}, nil
}

// Cleanup deletes unused challenges that have expired.
func (i *Issuer) Cleanup(ctx context.Context) (int64, error) {
	n, err := i.store.DeleteExpiredChallenges(ctx, i.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleaning up challenges: %w", err)
	}
	if n > 0 {
		i.logger.Debug("deleted expired challenges", "count", n)
	}
	return n, nil
}

// Run calls Cleanup every interval until ctx is cancelled.
func (i *Issuer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := i.Cleanup(ctx); err != nil && ctx.Err() == nil {
				i.logger.Error("challenge cleanup failed", "error", err)
			}
		}
	}
}
