// ABOUTME: Identity facade: proves wallet control, then commits group changes
// ABOUTME: Verification runs outside any transaction; resync fires after commit

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/corp-gateway/internal/challenge"
	"github.com/2389/corp-gateway/internal/corp"
	"github.com/2389/corp-gateway/internal/metrics"
	"github.com/2389/corp-gateway/internal/notify"
	"github.com/2389/corp-gateway/internal/ratelimit"
	"github.com/2389/corp-gateway/internal/store"
)

var (
	// ErrInvalidNonce is returned for unknown, reused or foreign nonces.
	ErrInvalidNonce = errors.New("invalid or already used nonce")

	// ErrNonceExpired is returned when the challenge outlived its TTL.
	ErrNonceExpired = errors.New("nonce expired")
)

// defaultNotifyTimeout bounds one resync notification.
const defaultNotifyTimeout = 10 * time.Second

// Config wires a Service.
type Config struct {
	Challenges store.ChallengeStore
	Verifier   SignatureVerifier
	Registry   *corp.Registry
	Notifier   notify.Notifier // nil disables resync notifications
	// Failures counts rejected signatures per wallet and is shared with the
	// challenge issuer. A locked out wallet cannot prove control.
	Failures        *ratelimit.Limiter
	Metrics         *metrics.Metrics
	ApplicationName string
	NotifyTimeout   time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

// Service links and unlinks wallets on proof of control.
type Service struct {
	challenges    store.ChallengeStore
	verifier      SignatureVerifier
	registry      *corp.Registry
	notifier      notify.Notifier
	failures      *ratelimit.Limiter
	metrics       *metrics.Metrics
	app           string
	notifyTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger

	inflight sync.WaitGroup
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	s := &Service{
		challenges:    cfg.Challenges,
		verifier:      cfg.Verifier,
		registry:      cfg.Registry,
		notifier:      cfg.Notifier,
		failures:      cfg.Failures,
		metrics:       cfg.Metrics,
		app:           cfg.ApplicationName,
		notifyTimeout: cfg.NotifyTimeout,
		now:           cfg.Now,
		logger:        cfg.Logger,
	}
	if s.app == "" {
		s.app = challenge.DefaultApplicationName
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = defaultNotifyTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "identity")
	}
	return s
}

// LinkRequest asks to add NewWallet to the group of ExistingWallet. The
// signature must be NewWallet's signData over the challenge issued for Nonce.
type LinkRequest struct {
	ExistingWallet string
	NewWallet      string
	Signature      string
	Key            string
	Nonce          string
	Nickname       *string
}

// UnlinkRequest asks to remove Wallet from its group, signed by Wallet.
type UnlinkRequest struct {
	Wallet    string
	Signature string
	Key       string
	Nonce     string
}

// proof is one signed challenge response.
type proof struct {
	wallet    string
	nonce     string
	signature string
	key       string
}

// LinkWallet verifies req and links the wallets. Every rejected attempt
// leaves exactly one failed add_wallet audit event. Malformed addresses are
// refused with corp.ErrInvalidWallet before anything is checked or audited.
func (s *Service) LinkWallet(ctx context.Context, req LinkRequest) (result *corp.LinkResult, err error) {
	defer func() { s.metrics.LinkAttempt(outcome(err)) }()

	if req.NewWallet, err = s.registry.NormalizeWallet(req.NewWallet); err != nil {
		return nil, err
	}
	if req.ExistingWallet, err = s.registry.NormalizeWallet(req.ExistingWallet); err != nil {
		return nil, err
	}

	p := proof{wallet: req.NewWallet, nonce: req.Nonce, signature: req.Signature, key: req.Key}
	if audit, err := s.prove(ctx, p); err != nil {
		if !audit {
			return nil, err
		}
		return nil, s.reject(ctx, corp.FailedAttempt{
			Action:       store.AuditAddWallet,
			PerformedBy:  req.ExistingWallet,
			TargetWallet: req.NewWallet,
			Signature:    req.Signature,
			Nonce:        req.Nonce,
			Reason:       err.Error(),
		}, err)
	}

	result, err = s.registry.CommitAddWallet(ctx, corp.AddWalletRequest{
		ExistingWallet: req.ExistingWallet,
		NewWallet:      req.NewWallet,
		Nickname:       req.Nickname,
		Signature:      req.Signature,
		Nonce:          req.Nonce,
	})
	if err != nil {
		return nil, err
	}

	s.notifyLinked(ctx, req.NewWallet, result.GroupID)
	return result, nil
}

// UnlinkWallet verifies req and removes the wallet from its group. Failed
// proofs are audited against the wallet's group when it has one.
func (s *Service) UnlinkWallet(ctx context.Context, req UnlinkRequest) (result *corp.RemoveResult, err error) {
	defer func() { s.metrics.Removal(outcome(err)) }()

	if req.Wallet, err = s.registry.NormalizeWallet(req.Wallet); err != nil {
		return nil, err
	}

	p := proof{wallet: req.Wallet, nonce: req.Nonce, signature: req.Signature, key: req.Key}
	if audit, err := s.prove(ctx, p); err != nil {
		if !audit {
			return nil, err
		}
		return nil, s.reject(ctx, corp.FailedAttempt{
			Action:       store.AuditRemoveWallet,
			PerformedBy:  req.Wallet,
			TargetWallet: req.Wallet,
			Signature:    req.Signature,
			Nonce:        req.Nonce,
			Reason:       err.Error(),
		}, err)
	}

	return s.registry.CommitRemoveWallet(ctx, corp.RemoveRequest{
		Wallet:    req.Wallet,
		Signature: req.Signature,
		Nonce:     req.Nonce,
	})
}

// Wait blocks until in-flight notifications finish.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// prove checks the challenge, the signature and consumes the nonce. audit is
// false for storage failures, which are returned without an audit event.
// A rejected signature counts against the wallet's failure budget.
func (s *Service) prove(ctx context.Context, p proof) (audit bool, err error) {
	if s.failures.Blocked(p.wallet, s.now()) {
		return true, challenge.ErrRateLimited
	}

	c, err := s.challenges.GetChallenge(ctx, p.nonce)
	if errors.Is(err, store.ErrNotFound) {
		return true, ErrInvalidNonce
	}
	if err != nil {
		return false, fmt.Errorf("loading challenge: %w", err)
	}
	if c.UsedAt != nil || c.WalletAddress != p.wallet {
		return true, ErrInvalidNonce
	}
	if s.now().After(c.ExpiresAt) {
		return true, ErrNonceExpired
	}

	res, err := s.verifier.Verify(ctx, VerifyRequest{
		StakeAddress: p.wallet,
		Nonce:        p.nonce,
		Signature:    p.signature,
		Key:          p.key,
		Message:      challenge.Message(p.nonce, s.app, c.CreatedAt),
	})
	if err != nil {
		return true, fmt.Errorf("verifying signature: %w", err)
	}
	if !res.Valid {
		if !s.failures.Record(p.wallet, s.now()) {
			s.logger.Warn("wallet locked out after failed signatures", "wallet", p.wallet)
		}
		return true, &SignatureError{Reason: res.Reason}
	}

	err = s.challenges.ConsumeChallenge(ctx, p.nonce, s.now().UTC())
	if errors.Is(err, store.ErrChallengeConsumed) || errors.Is(err, store.ErrNotFound) {
		return true, ErrInvalidNonce
	}
	if err != nil {
		return false, fmt.Errorf("consuming challenge: %w", err)
	}
	return false, nil
}

// reject records f and returns cause, or the audit error if recording failed.
func (s *Service) reject(ctx context.Context, f corp.FailedAttempt, cause error) error {
	if err := s.registry.RecordFailure(ctx, f); err != nil {
		s.logger.Error("failed to audit rejected attempt", "action", f.Action, "wallet", f.TargetWallet, "error", err)
		return err
	}
	s.logger.Info("attempt rejected", "action", f.Action, "wallet", f.TargetWallet, "reason", f.Reason)
	return cause
}

// notifyLinked requests a resync in the background. The request context may
// end with the response, so the notification gets its own deadline.
func (s *Service) notifyLinked(ctx context.Context, wallet, groupID string) {
	if s.notifier == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()

		if err := s.notifier.NotifyWalletLinked(nctx, wallet, notify.Options{ForceResync: true, GroupID: groupID}); err != nil {
			s.metrics.Notification("error")
			s.logger.Warn("resync notification failed", "wallet", wallet, "error", err)
			return
		}
		s.metrics.Notification("ok")
	}()
}

// outcome is the metrics label for an operation result.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidNonce):
		return "invalid_nonce"
	case errors.Is(err, ErrNonceExpired):
		return "nonce_expired"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, challenge.ErrRateLimited):
		return "locked_out"
	case errors.Is(err, corp.ErrInvalidWallet):
		return "invalid_wallet"
	case errors.Is(err, corp.ErrAlreadyInSameGroup):
		return "already_in_same_group"
	case errors.Is(err, corp.ErrWalletBelongsToOtherGroup):
		return "other_group"
	case errors.Is(err, corp.ErrGroupSizeLimitExceeded):
		return "group_full"
	case errors.Is(err, corp.ErrWalletNotFound):
		return "not_found"
	default:
		return "error"
	}
}
