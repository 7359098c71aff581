package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/onchainflow/logindexer/internal/domainoutbox"
)

// MemoryStore is an in-process Store used by executor unit tests,
// including the concurrent-race test for scenario 6 (two executors
// competing on the same command_key).
type MemoryStore struct {
	mu       sync.Mutex
	commands map[string]*domainoutbox.Command
	now      func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{commands: make(map[string]*domainoutbox.Command), now: now}
}

// Enqueue seeds a pending command, as a dispatcher handler would inside
// its own transaction.
func (m *MemoryStore) Enqueue(cmd domainoutbox.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd.Status = domainoutbox.StatusPending
	m.commands[cmd.CommandKey] = &cmd
}

func (m *MemoryStore) EnsureSchema(context.Context) error { return nil }

func (m *MemoryStore) SelectPending(_ context.Context, limit int) ([]domainoutbox.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.commands))
	for k, c := range m.commands {
		if c.ExecutedAt == nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]domainoutbox.Command, 0, len(keys))
	for _, k := range keys {
		out = append(out, *m.commands[k])
	}
	return out, nil
}

func (m *MemoryStore) MarkPublished(_ context.Context, commandKey string, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd, ok := m.commands[commandKey]
	if !ok {
		return false, domainoutbox.ErrNotFound
	}
	if cmd.ExecutedAt != nil {
		return false, nil
	}
	executedAt := m.now()
	cmd.ExecutedAt = &executedAt
	cmd.TxHash = txHash
	cmd.Status = domainoutbox.StatusDone
	cmd.LastError = ""
	return true, nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, commandKey string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd, ok := m.commands[commandKey]
	if !ok {
		return domainoutbox.ErrNotFound
	}
	cmd.Attempts++
	cmd.LastError = truncate(errMsg, domainoutbox.MaxErrorLen)
	cmd.Status = domainoutbox.StatusFailed
	return nil
}

func (m *MemoryStore) PendingCount(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.commands {
		if c.ExecutedAt == nil {
			n++
		}
	}
	return n, nil
}

// TxHash returns the tx hash recorded for commandKey, or "" if unset.
func (m *MemoryStore) TxHash(commandKey string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.commands[commandKey]; ok {
		return c.TxHash
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var _ Store = (*MemoryStore)(nil)
