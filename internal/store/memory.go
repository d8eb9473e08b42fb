package store

import (
	"context"
	"fmt"
	"sync"

	"memory-map/internal/entry"
)

type memRecord struct {
	e       entry.Entry
	version uint64
}

type memSub struct {
	ch   chan entry.Entry
	done chan struct{}
}

// MemoryBackend：进程内集合实现
// 约束：递增采用“读版本 → 比较并交换”循环，冲突时重试直至提交；推送在持读锁时阻塞发送，订阅方需持续消费
type MemoryBackend struct {
	mu     sync.RWMutex
	order  []string
	recs   map[string]memRecord
	subs   map[int]*memSub
	nextID int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{recs: make(map[string]memRecord), subs: make(map[int]*memSub)}
}

func (m *MemoryBackend) List(ctx context.Context) ([]entry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entry.Entry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.recs[id].e)
	}
	return out, nil
}

func (m *MemoryBackend) Insert(ctx context.Context, e entry.Entry) error {
	if e.ID == "" {
		return fmt.Errorf("insert: empty id")
	}
	m.mu.Lock()
	if _, ok := m.recs[e.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("insert %s: %w", e.ID, ErrDuplicate)
	}
	m.recs[e.ID] = memRecord{e: e}
	m.order = append(m.order, e.ID)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subs {
		select {
		case s.ch <- e:
		case <-s.done:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (m *MemoryBackend) Increment(ctx context.Context, id string) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		m.mu.RLock()
		r, ok := m.recs[id]
		m.mu.RUnlock()
		if !ok {
			return false, nil
		}
		next := r.e
		next.NumVisits++
		m.mu.Lock()
		cur := m.recs[id]
		if cur.version == r.version {
			m.recs[id] = memRecord{e: next, version: r.version + 1}
			m.mu.Unlock()
			return true, nil
		}
		m.mu.Unlock()
	}
}

func (m *MemoryBackend) Watch(ctx context.Context) (<-chan entry.Entry, error) {
	s := &memSub{ch: make(chan entry.Entry, 64), done: make(chan struct{})}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = s
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		close(s.done)
		m.mu.Lock()
		delete(m.subs, id)
		close(s.ch)
		m.mu.Unlock()
	}()
	return s.ch, nil
}

// Get：按 ID 读取
func (m *MemoryBackend) Get(ctx context.Context, id string) (entry.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recs[id]
	if !ok {
		return entry.Entry{}, ErrNotFound
	}
	return r.e, nil
}

func (m *MemoryBackend) Stats(ctx context.Context) (Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := Totals{Total: int64(len(m.order))}
	for _, r := range m.recs {
		t.Visits += r.e.NumVisits
	}
	return t, nil
}
