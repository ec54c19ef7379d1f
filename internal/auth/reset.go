package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"edudesk.io/internal/obs"
)

const (
	// TemplateForgotPassword is the notification key for reset links.
	TemplateForgotPassword = "forgot-password"

	defaultResetTTL      = time.Hour
	defaultNotifyTimeout = 5 * time.Second
	resetTokenBytes      = 32
)

// Notifier hands a templated message to an outbound transport.
type Notifier interface {
	Send(ctx context.Context, templateKey, to string, data map[string]any) error
}

// ResetConfig configures the password reset protocol.
type ResetConfig struct {
	// WebURL is the front-end base; the link is WebURL + "reset-password?token=".
	WebURL        string
	TTL           time.Duration
	NotifyTimeout time.Duration
	// HideUnknownEmail makes requests for unknown emails succeed silently.
	HideUnknownEmail bool
}

// ResetCoordinator runs the two-phase password reset protocol.
type ResetCoordinator struct {
	repo     Repository
	hasher   Hasher
	notifier Notifier
	cfg      ResetConfig
	now      func() time.Time
	random   io.Reader
}

// ResetOption configures ResetCoordinator.
type ResetOption func(*ResetCoordinator)

// WithResetClock overrides the time source.
func WithResetClock(fn func() time.Time) ResetOption {
	return func(c *ResetCoordinator) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithResetHasher overrides the password hasher.
func WithResetHasher(h Hasher) ResetOption {
	return func(c *ResetCoordinator) {
		if h != nil {
			c.hasher = h
		}
	}
}

// WithRandom overrides the entropy source for reset tokens.
func WithRandom(r io.Reader) ResetOption {
	return func(c *ResetCoordinator) {
		if r != nil {
			c.random = r
		}
	}
}

// NewResetCoordinator constructs a coordinator.
func NewResetCoordinator(repo Repository, notifier Notifier, cfg ResetConfig, opts ...ResetOption) (*ResetCoordinator, error) {
	if repo == nil {
		return nil, errors.New("auth repository is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultResetTTL
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	c := &ResetCoordinator{
		repo:     repo,
		hasher:   NewBcryptHasher(),
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RequestReset issues a reset ticket for email and sends the link. The
// ticket is committed before delivery; a delivery failure leaves it in place
// and is reported as ErrDelivery. The latest request overwrites any earlier
// ticket.
func (c *ResetCoordinator) RequestReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return newError(ErrInvalidInput, "Email is required")
	}
	p, err := c.findByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		if c.cfg.HideUnknownEmail {
			return nil
		}
		return errEmailNotFound
	}
	if err != nil {
		return err
	}

	token, err := c.newToken()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	now := c.now().UTC()
	expires := now.Add(c.cfg.TTL)
	if _, err := c.repo.Update(ctx, p.Kind, p.ID, PrincipalUpdate{
		ResetToken:       &token,
		ResetTokenExpiry: &expires,
	}); err != nil {
		return fmt.Errorf("store reset ticket: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.NotifyTimeout)
	defer cancel()
	err = c.notifier.Send(sendCtx, TemplateForgotPassword, email, map[string]any{
		"name":     p.Name,
		"resetUrl": c.resetURL(token),
		"year":     now.Year(),
	})
	if err != nil {
		obs.Logger().Error().Err(err).
			Str("template", TemplateForgotPassword).
			Str("principal_id", p.ID).
			Msg("reset_notify_failed")
		return &Error{Kind: ErrDelivery, Message: errResetDelivery.Message, cause: err}
	}
	return nil
}

// findByEmail checks the user store first, then the super-admin store.
func (c *ResetCoordinator) findByEmail(ctx context.Context, email string) (*Principal, error) {
	for _, kind := range []PrincipalKind{KindUser, KindSuper} {
		p, err := c.repo.FindByEmail(ctx, kind, email)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("lookup %s: %w", kind, err)
		}
	}
	return nil, ErrNotFound
}

// RedeemReset sets a new password for the holder of an unexpired ticket and
// clears the ticket. Wrong and expired tokens fail identically.
func (c *ResetCoordinator) RedeemReset(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errInvalidResetToken
	}
	if newPassword == "" {
		return newError(ErrInvalidInput, "New password is required")
	}
	hash, err := c.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := c.now().UTC()
	for _, kind := range []PrincipalKind{KindUser, KindSuper} {
		_, err := c.repo.RedeemResetTicket(ctx, kind, token, now, hash)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("redeem reset ticket: %w", err)
		}
	}
	return errInvalidResetToken
}

// ValidateResetToken reports whether token is currently redeemable.
func (c *ResetCoordinator) ValidateResetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errInvalidResetToken
	}
	now := c.now().UTC()
	for _, kind := range []PrincipalKind{KindUser, KindSuper} {
		_, err := c.repo.FindByResetToken(ctx, kind, token, now)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("lookup reset ticket: %w", err)
		}
	}
	return errInvalidResetToken
}

func (c *ResetCoordinator) newToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := io.ReadFull(c.random, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (c *ResetCoordinator) resetURL(token string) string {
	return c.cfg.WebURL + "reset-password?token=" + token
}
