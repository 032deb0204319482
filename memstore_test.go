package candleclock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store used across the package tests. It keeps
// the same claim semantics as the SQL adapters: earliest due row first,
// executing rows only claimable past the reclaim window.
type memStore struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*Timer
}

func newMemStore() *memStore {
	return &memStore{timers: make(map[uuid.UUID]*Timer)}
}

func (m *memStore) put(t *Timer) {
	cp := *t
	m.timers[t.ID] = &cp
}

func (m *memStore) get(id uuid.UUID) (*Timer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[id]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

func (m *memStore) Insert(_ context.Context, t *Timer) (*Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Name != nil {
		for id, existing := range m.timers {
			if existing.Name != nil && *existing.Name == *t.Name {
				delete(m.timers, id)
			}
		}
	}
	m.put(t)
	cp := *t
	return &cp, nil
}

func (m *memStore) InsertMany(ctx context.Context, ts []*Timer) ([]*Timer, error) {
	out := make([]*Timer, 0, len(ts))
	for _, t := range ts {
		stored, err := m.Insert(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (m *memStore) claimable(t *Timer, now time.Time, window time.Duration) bool {
	if t.ExpiresAt == nil || !t.ExpiresAt.Before(now) {
		return false
	}
	return !t.Executing || t.ExpiresAt.Before(now.Add(-window))
}

func (m *memStore) ClaimNext(_ context.Context, now time.Time, window time.Duration) (*Timer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pick *Timer
	for _, t := range m.timers {
		if !m.claimable(t, now, window) {
			continue
		}
		if pick == nil || t.ExpiresAt.Before(*pick.ExpiresAt) {
			pick = t
		}
	}
	if pick == nil {
		return nil, false, nil
	}
	reclaimed := pick.Executing
	pick.Executing = true
	pick.UpdatedAt = now
	cp := *pick
	return &cp, reclaimed, nil
}

func (m *memStore) FinishFire(_ context.Context, id uuid.UUID, next time.Time, calls int, updatedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[id]
	if !ok {
		return 0, nil
	}
	utc := next.UTC()
	t.ExpiresAt = &utc
	t.Calls = calls
	t.Executing = false
	t.UpdatedAt = updatedAt
	return 1, nil
}

func (m *memStore) EarliestExpiry(_ context.Context, now time.Time, window time.Duration) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var earliest *time.Time
	for _, t := range m.timers {
		if t.ExpiresAt == nil {
			continue
		}
		if t.Executing && !t.ExpiresAt.Before(now.Add(-window)) {
			continue
		}
		if earliest == nil || t.ExpiresAt.Before(*earliest) {
			cp := *t.ExpiresAt
			earliest = &cp
		}
	}
	return earliest, nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.timers[id]; !ok {
		return 0, nil
	}
	delete(m.timers, id)
	return 1, nil
}

func (m *memStore) DeleteByName(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.timers {
		if t.Name != nil && *t.Name == name {
			delete(m.timers, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteByCallable(_ context.Context, module, function string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.timers {
		if t.Module == module && t.Function == function {
			delete(m.timers, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) IDExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[id]
	return ok, nil
}

func (m *memStore) NameExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		if t.Name != nil && *t.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) List(_ context.Context, limit int) ([]*Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Timer, 0, len(m.timers))
	for _, t := range m.timers {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
