package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
)

// Mock implementations

type mockAccessRepo struct {
	mu      sync.Mutex
	owner   *domain.Owner
	blocked map[domain.UserID]*domain.BlockEntry
	claims  int
	err     error
}

func newMockAccessRepo() *mockAccessRepo {
	return &mockAccessRepo{blocked: make(map[domain.UserID]*domain.BlockEntry)}
}

func (m *mockAccessRepo) GetOwner(ctx context.Context) (*domain.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.owner == nil {
		return nil, nil
	}
	o := *m.owner
	return &o, nil
}

func (m *mockAccessRepo) ClaimOwner(ctx context.Context, userID domain.UserID) (*domain.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims++
	if m.owner == nil {
		m.owner = &domain.Owner{UserID: userID, PairedAt: time.Now()}
	}
	o := *m.owner
	return &o, nil
}

func (m *mockAccessRepo) IsBlocked(ctx context.Context, userID domain.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.blocked[userID]
	return ok, nil
}

func (m *mockAccessRepo) Block(ctx context.Context, entry *domain.BlockEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocked[entry.UserID]; !ok {
		m.blocked[entry.UserID] = entry
	}
	return nil
}

func (m *mockAccessRepo) Unblock(ctx context.Context, userID domain.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocked[userID]
	delete(m.blocked, userID)
	return ok, nil
}

func (m *mockAccessRepo) ListBlocked(ctx context.Context) ([]*domain.BlockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BlockEntry
	for _, e := range m.blocked {
		out = append(out, e)
	}
	return out, nil
}

func (m *mockAccessRepo) Close() error { return nil }

func TestAuthorize_Allowlist(t *testing.T) {
	ctx := context.Background()
	uc := NewAccessUsecase(newMockAccessRepo(), AccessConfig{
		Policy:    domain.PolicyAllowlist,
		AllowFrom: []domain.UserID{100, 200},
	})

	d, err := uc.Authorize(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.Allow, d)

	for _, stranger := range []domain.UserID{1, 101, -100, 999999} {
		d, err := uc.Authorize(ctx, stranger)
		require.NoError(t, err)
		assert.Equal(t, domain.DenyAndRecord, d, "sender %d", stranger)
	}
}

func TestAuthorize_BlockedDeniedUnderEveryPolicy(t *testing.T) {
	ctx := context.Background()
	for _, policy := range []domain.DMPolicy{domain.PolicyAllowlist, domain.PolicyPairing, domain.PolicyOpen} {
		t.Run(string(policy), func(t *testing.T) {
			repo := newMockAccessRepo()
			repo.owner = &domain.Owner{UserID: 100}
			repo.blocked[100] = &domain.BlockEntry{UserID: 100}

			uc := NewAccessUsecase(repo, AccessConfig{Policy: policy, AllowFrom: []domain.UserID{100}})
			d, err := uc.Authorize(ctx, 100)
			require.NoError(t, err)
			assert.False(t, d.Allowed())
			assert.Equal(t, domain.DenyAndRecord, d)
		})
	}
}

func TestAuthorize_Open(t *testing.T) {
	uc := NewAccessUsecase(newMockAccessRepo(), AccessConfig{Policy: domain.PolicyOpen})

	d, err := uc.Authorize(context.Background(), 12345)
	require.NoError(t, err)
	assert.Equal(t, domain.Allow, d)
}

func TestAuthorize_DisabledIsSilent(t *testing.T) {
	uc := NewAccessUsecase(newMockAccessRepo(), AccessConfig{
		Policy:    domain.PolicyDisabled,
		AllowFrom: []domain.UserID{100},
	})

	d, err := uc.Authorize(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, domain.Deny, d)
}

func TestAuthorize_PairingFirstSenderBecomesOwner(t *testing.T) {
	ctx := context.Background()
	repo := newMockAccessRepo()
	uc := NewAccessUsecase(repo, AccessConfig{Policy: domain.PolicyPairing})

	d, err := uc.Authorize(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.Allow, d)

	d, err = uc.Authorize(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, domain.DenyAndRecord, d)

	d, err = uc.Authorize(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.Allow, d)

	owner, err := uc.Owner(ctx)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, domain.UserID(7), owner.UserID)
	assert.Equal(t, 1, repo.claims)
}

func TestAuthorize_LogsPairingClaimAndDenials(t *testing.T) {
	ctx := context.Background()
	uc := NewAccessUsecase(newMockAccessRepo(), AccessConfig{Policy: domain.PolicyPairing})
	var buf bytes.Buffer
	uc.log = zerolog.New(&buf).Level(zerolog.DebugLevel)

	_, err := uc.Authorize(ctx, 7)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"user_id":7,"message":"pairing claimed, sender is now the owner"`)

	buf.Reset()
	_, err = uc.Authorize(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, buf.String(), "the owner's later messages are not logged")

	_, err = uc.Authorize(ctx, 8)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"user_id":8,"message":"denied: not the paired owner"`)
}

func TestAuthorize_PairingRaceHasExactlyOneOwner(t *testing.T) {
	ctx := context.Background()
	repo := newMockAccessRepo()
	uc := NewAccessUsecase(repo, AccessConfig{Policy: domain.PolicyPairing})

	const senders = 50
	decisions := make([]domain.Decision, senders)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			d, err := uc.Authorize(ctx, domain.UserID(1000+i))
			assert.NoError(t, err)
			decisions[i] = d
		}(i)
	}
	close(start)
	wg.Wait()

	allowed := 0
	var winner domain.UserID
	for i, d := range decisions {
		if d.Allowed() {
			allowed++
			winner = domain.UserID(1000 + i)
		}
	}
	assert.Equal(t, 1, allowed)

	owner, err := repo.GetOwner(ctx)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, winner, owner.UserID)
}

func TestAuthorize_StoreErrorDenies(t *testing.T) {
	repo := newMockAccessRepo()
	repo.err = errors.New("disk I/O error")
	uc := NewAccessUsecase(repo, AccessConfig{Policy: domain.PolicyOpen})

	d, err := uc.Authorize(context.Background(), 1)
	assert.Error(t, err)
	assert.Equal(t, domain.Deny, d)
}

func TestAuthorize_SeesBlockChangesImmediately(t *testing.T) {
	ctx := context.Background()
	repo := newMockAccessRepo()
	uc := NewAccessUsecase(repo, AccessConfig{Policy: domain.PolicyOpen})

	d, _ := uc.Authorize(ctx, 5)
	assert.Equal(t, domain.Allow, d)

	// Written directly to the store, as the offline CLI does.
	require.NoError(t, repo.Block(ctx, &domain.BlockEntry{UserID: 5}))
	d, _ = uc.Authorize(ctx, 5)
	assert.Equal(t, domain.DenyAndRecord, d)

	removed, err := uc.RecordUnblock(ctx, 5)
	require.NoError(t, err)
	assert.True(t, removed)
	d, _ = uc.Authorize(ctx, 5)
	assert.Equal(t, domain.Allow, d)
}

func TestIsAdmin(t *testing.T) {
	ctx := context.Background()
	repo := newMockAccessRepo()
	repo.owner = &domain.Owner{UserID: 1}
	repo.blocked[3] = &domain.BlockEntry{UserID: 3}
	uc := NewAccessUsecase(repo, AccessConfig{Policy: domain.PolicyPairing, AllowFrom: []domain.UserID{2, 3}})

	for id, want := range map[domain.UserID]bool{1: true, 2: true, 3: false, 4: false} {
		got, err := uc.IsAdmin(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "user %d", id)
	}
}

func TestRecordBlock_RejectsSelf(t *testing.T) {
	uc := NewAccessUsecase(newMockAccessRepo(), AccessConfig{Policy: domain.PolicyOpen})

	err := uc.RecordBlock(context.Background(), 9, 9, "")
	assert.ErrorIs(t, err, ErrSelfBlock)

	require.NoError(t, uc.RecordBlock(context.Background(), 10, 9, "spam"))
	blocked, err := uc.Blocked(context.Background())
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, domain.UserID(10), blocked[0].UserID)
	assert.Equal(t, domain.UserID(9), blocked[0].BlockedBy)
	assert.Equal(t, "spam", blocked[0].Reason)
}
