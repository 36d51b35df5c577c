package repo

import (
	"context"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
)

// AccessRepo persists access state (pairing owner and block-list)
type AccessRepo interface {
	// GetOwner returns the paired owner, or nil if unpaired
	GetOwner(ctx context.Context) (*domain.Owner, error)

	// ClaimOwner sets the owner only if none is set yet and returns the owner
	// that is persisted after the call, which may be an earlier claimant.
	ClaimOwner(ctx context.Context, userID domain.UserID) (*domain.Owner, error)

	// IsBlocked reports block-list membership
	IsBlocked(ctx context.Context, userID domain.UserID) (bool, error)

	// Block adds a user to the block-list; blocking twice is not an error
	Block(ctx context.Context, entry *domain.BlockEntry) error

	// Unblock removes a user from the block-list and reports whether it was present
	Unblock(ctx context.Context, userID domain.UserID) (bool, error)

	// ListBlocked lists the block-list, oldest first
	ListBlocked(ctx context.Context) ([]*domain.BlockEntry, error)

	Close() error
}
