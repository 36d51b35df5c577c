package service

import (
	"context"
	"sync"
	"time"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/repo"
)

// Mock implementations

type sentMessage struct {
	ChatID domain.ChatID
	Text   string
}

type mockChatRepo struct {
	mu       sync.Mutex
	sent     []sentMessage
	typing   []domain.ChatID
	attempts int
	// sendErrs are returned by successive SendText calls before succeeding
	sendErrs []error

	batches  [][]domain.Update
	pollErrs []error
	offsets  []int64
}

func (m *mockChatRepo) Me(ctx context.Context) (*repo.BotIdentity, error) {
	return &repo.BotIdentity{ID: 999, Username: "c3pohbot", FirstName: "C3Poh"}, nil
}

func (m *mockChatRepo) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]domain.Update, error) {
	m.mu.Lock()
	m.offsets = append(m.offsets, offset)
	if len(m.pollErrs) > 0 {
		err := m.pollErrs[0]
		m.pollErrs = m.pollErrs[1:]
		m.mu.Unlock()
		return nil, err
	}
	if len(m.batches) > 0 {
		batch := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return batch, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *mockChatRepo) SendText(ctx context.Context, chatID domain.ChatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (m *mockChatRepo) SendTyping(ctx context.Context, chatID domain.ChatID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, chatID)
	return nil
}

func (m *mockChatRepo) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

// mockOutbound records sends without retries or splitting
type mockOutbound struct {
	mu     sync.Mutex
	sent   []sentMessage
	typing int
	err    error
}

func (m *mockOutbound) Send(ctx context.Context, chatID domain.ChatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (m *mockOutbound) Typing(ctx context.Context, chatID domain.ChatID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing++
}

func (m *mockOutbound) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

type mockAgentRepo struct {
	mu      sync.Mutex
	prompts []string
	result  func(text string) domain.AgentResult
	delay   time.Duration
	running int
	maxSeen int
}

func (m *mockAgentRepo) Invoke(ctx context.Context, text string, deadline time.Duration) domain.AgentResult {
	m.mu.Lock()
	m.prompts = append(m.prompts, text)
	m.running++
	m.maxSeen = max(m.maxSeen, m.running)
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.running--
	m.mu.Unlock()
	if m.result != nil {
		return m.result(text)
	}
	return domain.Succeeded("echo: "+text, 0)
}

func (m *mockAgentRepo) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

type logEntry struct {
	UserID    domain.UserID
	Direction repo.Direction
	Blocked   bool
}

type mockMessageLog struct {
	mu      sync.Mutex
	entries []logEntry
}

func (m *mockMessageLog) LogMessage(userID domain.UserID, chatID domain.ChatID, text string, dir repo.Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, logEntry{UserID: userID, Direction: dir})
}

func (m *mockMessageLog) LogBlocked(userID domain.UserID, chatID domain.ChatID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, logEntry{UserID: userID, Blocked: true})
}

func (m *mockMessageLog) Entries() []logEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logEntry(nil), m.entries...)
}

// memAccessRepo is an in-memory access store
type memAccessRepo struct {
	mu      sync.Mutex
	owner   *domain.Owner
	blocked map[domain.UserID]bool
}

func newMemAccessRepo() *memAccessRepo {
	return &memAccessRepo{blocked: make(map[domain.UserID]bool)}
}

func (m *memAccessRepo) GetOwner(ctx context.Context) (*domain.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner, nil
}

func (m *memAccessRepo) ClaimOwner(ctx context.Context, userID domain.UserID) (*domain.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == nil {
		m.owner = &domain.Owner{UserID: userID, PairedAt: time.Now()}
	}
	return m.owner, nil
}

func (m *memAccessRepo) IsBlocked(ctx context.Context, userID domain.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked[userID], nil
}

func (m *memAccessRepo) Block(ctx context.Context, entry *domain.BlockEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[entry.UserID] = true
	return nil
}

func (m *memAccessRepo) Unblock(ctx context.Context, userID domain.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok := m.blocked[userID]
	delete(m.blocked, userID)
	return ok, nil
}

func (m *memAccessRepo) ListBlocked(ctx context.Context) ([]*domain.BlockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BlockEntry
	for id := range m.blocked {
		out = append(out, &domain.BlockEntry{UserID: id})
	}
	return out, nil
}

func (m *memAccessRepo) Close() error { return nil }
