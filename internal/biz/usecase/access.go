package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/repo"
	"github.com/andyuninvited/c3poh-for-claudecode/pkg/logger"
)

// ErrSelfBlock is returned when an administrator tries to block themself
var ErrSelfBlock = errors.New("cannot block yourself")

// AccessConfig is the static part of access control
type AccessConfig struct {
	Policy    domain.DMPolicy
	AllowFrom []domain.UserID
}

// AccessUsecase decides whether a sender may reach the agent.
//
// All reads and writes of access state go through mu, so the pairing
// first-writer-wins check and block-list updates are serialized in-process.
// The store's conditional insert guards the owner across processes.
type AccessUsecase struct {
	mu        sync.Mutex
	repo      repo.AccessRepo
	policy    domain.DMPolicy
	allowFrom map[domain.UserID]struct{}
	log       zerolog.Logger
}

// NewAccessUsecase creates a new access usecase
func NewAccessUsecase(accessRepo repo.AccessRepo, cfg AccessConfig) *AccessUsecase {
	allow := make(map[domain.UserID]struct{}, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		allow[id] = struct{}{}
	}
	return &AccessUsecase{
		repo:      accessRepo,
		policy:    cfg.Policy,
		allowFrom: allow,
		log:       logger.Component(logger.CompAccess),
	}
}

// Policy returns the configured DM policy
func (uc *AccessUsecase) Policy() domain.DMPolicy {
	return uc.policy
}

// Authorize decides for sender against the current access state. A store
// error denies.
func (uc *AccessUsecase) Authorize(ctx context.Context, sender domain.UserID) (domain.Decision, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.policy == domain.PolicyDisabled {
		return domain.Deny, nil
	}

	blocked, err := uc.repo.IsBlocked(ctx, sender)
	if err != nil {
		return domain.Deny, fmt.Errorf("check block-list: %w", err)
	}
	if blocked {
		uc.log.Debug().Int64("user_id", int64(sender)).Msg("denied: blocked")
		return domain.DenyAndRecord, nil
	}

	switch uc.policy {
	case domain.PolicyOpen:
		return domain.Allow, nil

	case domain.PolicyAllowlist:
		if _, ok := uc.allowFrom[sender]; ok {
			return domain.Allow, nil
		}
		uc.log.Debug().Int64("user_id", int64(sender)).Msg("denied: not in allow_from")
		return domain.DenyAndRecord, nil

	case domain.PolicyPairing:
		owner, err := uc.repo.GetOwner(ctx)
		if err != nil {
			return domain.Deny, fmt.Errorf("get owner: %w", err)
		}
		if owner == nil {
			// Re-checked by the store: only an unset owner is written.
			owner, err = uc.repo.ClaimOwner(ctx, sender)
			if err != nil {
				return domain.Deny, fmt.Errorf("claim owner: %w", err)
			}
			if owner != nil && owner.UserID == sender {
				uc.log.Info().Int64("user_id", int64(sender)).Msg("pairing claimed, sender is now the owner")
			}
		}
		if owner != nil && owner.UserID == sender {
			return domain.Allow, nil
		}
		uc.log.Debug().Int64("user_id", int64(sender)).Msg("denied: not the paired owner")
		return domain.DenyAndRecord, nil
	}

	return domain.Deny, nil
}

// Owner returns the paired owner, nil if unpaired
func (uc *AccessUsecase) Owner(ctx context.Context) (*domain.Owner, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.repo.GetOwner(ctx)
}

// AllowFrom returns the static allow-list
func (uc *AccessUsecase) AllowFrom() []domain.UserID {
	ids := make([]domain.UserID, 0, len(uc.allowFrom))
	for id := range uc.allowFrom {
		ids = append(ids, id)
	}
	return ids
}

// IsAdmin reports whether user may change the block-list: the paired owner
// or an allow-list member, and never a blocked user.
func (uc *AccessUsecase) IsAdmin(ctx context.Context, user domain.UserID) (bool, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	blocked, err := uc.repo.IsBlocked(ctx, user)
	if err != nil || blocked {
		return false, err
	}
	if _, ok := uc.allowFrom[user]; ok {
		return true, nil
	}
	owner, err := uc.repo.GetOwner(ctx)
	if err != nil {
		return false, err
	}
	return owner != nil && owner.UserID == user, nil
}

// RecordBlock adds target to the block-list
func (uc *AccessUsecase) RecordBlock(ctx context.Context, target, by domain.UserID, reason string) error {
	if target == by {
		return ErrSelfBlock
	}
	uc.mu.Lock()
	defer uc.mu.Unlock()
	err := uc.repo.Block(ctx, &domain.BlockEntry{
		UserID:    target,
		Reason:    reason,
		BlockedBy: by,
		CreatedAt: time.Now(),
	})
	if err == nil {
		uc.log.Info().Int64("user_id", int64(target)).Int64("by", int64(by)).Msg("user blocked")
	}
	return err
}

// RecordUnblock removes target from the block-list
func (uc *AccessUsecase) RecordUnblock(ctx context.Context, target domain.UserID) (bool, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.repo.Unblock(ctx, target)
}

// Blocked lists the block-list
func (uc *AccessUsecase) Blocked(ctx context.Context) ([]*domain.BlockEntry, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.repo.ListBlocked(ctx)
}
