package auth

import (
	"context"
	"time"
)

// Repository describes persistence operations required by the auth core.
// Each call targets one logical store selected by kind. Lookups on the user
// store return the principal with role, permissions and school joined.
// Misses return ErrNotFound.
type Repository interface {
	FindByEmail(ctx context.Context, kind PrincipalKind, email string) (*Principal, error)
	FindByID(ctx context.Context, kind PrincipalKind, id string) (*Principal, error)
	// FindByResetToken matches only tickets whose expiry is after now.
	FindByResetToken(ctx context.Context, kind PrincipalKind, token string, now time.Time) (*Principal, error)
	Update(ctx context.Context, kind PrincipalKind, id string, upd PrincipalUpdate) (*Principal, error)
	// RedeemResetTicket stores passwordHash and clears the ticket in one step,
	// provided the ticket still matches token and has not expired at now.
	RedeemResetTicket(ctx context.Context, kind PrincipalKind, token string, now time.Time, passwordHash string) (*Principal, error)
	// ClearExpiredResetTickets clears every ticket whose expiry is not after now.
	ClearExpiredResetTickets(ctx context.Context, now time.Time) (int64, error)
}
