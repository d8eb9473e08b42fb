// 包 store: 记忆集合的远端存取适配层，提供一次性读取、增量订阅、创建与原子计数
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"memory-map/internal/entry"
	"memory-map/internal/logger"
)

var (
	// ErrRemoteRead：一次性读取失败；调用方按空集合降级
	ErrRemoteRead = errors.New("remote read failed")
	// ErrNotFound：记录不存在
	ErrNotFound = errors.New("entry not found")
	// ErrDuplicate：ID 已存在
	ErrDuplicate = errors.New("duplicate entry id")
)

// Backend：具体存储实现的最小契约
// 约束：Watch 返回的通道只推送订阅建立之后新增的条目；ctx 结束后停止推送
type Backend interface {
	List(ctx context.Context) ([]entry.Entry, error)
	Insert(ctx context.Context, e entry.Entry) error
	Increment(ctx context.Context, id string) (bool, error)
	Watch(ctx context.Context) (<-chan entry.Entry, error)
}

// Totals：集合统计
type Totals struct {
	Total  int64 `json:"total"`
	Visits int64 `json:"visits"`
}

// Stater：可直接给出统计的后端
type Stater interface {
	Stats(ctx context.Context) (Totals, error)
}

// Getter：可按 ID 直接读取的后端
type Getter interface {
	Get(ctx context.Context, id string) (entry.Entry, error)
}

// Lookup：按 ID 读取；后端不支持 Get 时退化为全量扫描
func Lookup(ctx context.Context, b Backend, id string) (entry.Entry, error) {
	if g, ok := b.(Getter); ok {
		return g.Get(ctx, id)
	}
	list, err := b.List(ctx)
	if err != nil {
		return entry.Entry{}, err
	}
	for _, e := range list {
		if e.ID == id {
			return e, nil
		}
	}
	return entry.Entry{}, ErrNotFound
}

// Adapter：记忆集合适配器
// 约束：先 SubscribeToAdditions 再 FetchAllOnce 可保证无遗漏；初次读取完成前到达的新增事件先缓存，
// 完成后剔除已包含在初次读取中的条目，同一 ID 只投递一次。
type Adapter struct {
	b     Backend
	l     *slog.Logger
	newID func() string

	// dmu 串行化 handler 调用；mu 只保护下列状态
	dmu      sync.Mutex
	mu       sync.Mutex
	loadOnce sync.Once
	loaded   bool
	seen     map[string]struct{}
	pending  []entry.Entry
	handler  func(entry.Entry)
}

func NewAdapter(b Backend, l *slog.Logger) *Adapter {
	if l == nil {
		l = logger.L()
	}
	return &Adapter{b: b, l: l, newID: uuid.NewString, seen: make(map[string]struct{})}
}

// 文档注释：一次性读取完整集合
// 返回：失败时返回空集合与包裹 ErrRemoteRead 的错误；无论成败都会置位“初次读取完成”
func (a *Adapter) FetchAllOnce(ctx context.Context) ([]entry.Entry, error) {
	list, err := a.b.List(ctx)
	if err != nil {
		a.l.Warn("store_fetch_all_error", "err", err)
		a.markLoaded(nil)
		return []entry.Entry{}, fmt.Errorf("%w: %v", ErrRemoteRead, err)
	}
	a.l.Debug("store_fetch_all_ok", "count", len(list))
	a.markLoaded(list)
	return list, nil
}

func (a *Adapter) markLoaded(list []entry.Entry) {
	a.mu.Lock()
	for _, e := range list {
		a.seen[e.ID] = struct{}{}
	}
	a.loadOnce.Do(func() { a.loaded = true })
	a.mu.Unlock()
	a.flush()
}

// 文档注释：订阅新增条目
// 背景：立即建立后端推送；handler 在独立协程中调用，每个新增条目最多一次。
// 约束：同一 Adapter 仅支持一个 handler，重复调用会替换旧 handler 并再建一条推送。
func (a *Adapter) SubscribeToAdditions(ctx context.Context, handler func(entry.Entry)) error {
	ch, err := a.b.Watch(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					a.l.Debug("store_watch_closed")
					return
				}
				a.deliver(e)
			}
		}
	}()
	a.flush()
	return nil
}

func (a *Adapter) deliver(e entry.Entry) {
	a.dmu.Lock()
	defer a.dmu.Unlock()
	a.mu.Lock()
	a.pending = append(a.pending, e)
	a.mu.Unlock()
	a.drain()
}

func (a *Adapter) flush() {
	a.dmu.Lock()
	defer a.dmu.Unlock()
	a.drain()
}

// drain：按到达顺序投递缓存的新增；调用方持有 dmu，保证 handler 串行且不乱序
func (a *Adapter) drain() {
	a.mu.Lock()
	if !a.loaded || a.handler == nil || len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	queued := a.pending
	a.pending = nil
	h := a.handler
	out := queued[:0]
	for _, e := range queued {
		if _, dup := a.seen[e.ID]; dup {
			a.l.Debug("store_addition_skip", "id", e.ID)
			continue
		}
		a.seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	a.mu.Unlock()
	for _, e := range out {
		h(e)
	}
}

// 文档注释：创建条目
// 背景：ID 在本地生成并立即返回；远端写入在后台完成，结果通过 done 通道返回（缓冲 1，可不读取）。
// 约束：访问次数强制为 0；写入不随 ctx 取消而中止。
func (a *Adapter) Create(ctx context.Context, e entry.Entry) (string, <-chan error) {
	e.ID = a.newID()
	e.NumVisits = 0
	done := make(chan error, 1)
	wctx := context.WithoutCancel(ctx)
	go func() {
		err := a.b.Insert(wctx, e)
		if err != nil {
			a.l.Error("store_create_error", "id", e.ID, "err", err)
		} else {
			a.l.Debug("store_create_ok", "id", e.ID)
		}
		done <- err
		close(done)
	}()
	return e.ID, done
}

// 文档注释：原子递增访问次数
// 返回：committed 表示递增已提交；记录不存在时为 false 且无错误
func (a *Adapter) IncrementVisitCount(ctx context.Context, id string) (bool, error) {
	ok, err := a.b.Increment(ctx, id)
	if err != nil {
		a.l.Error("store_increment_error", "id", id, "err", err)
		return false, err
	}
	if !ok {
		a.l.Info("store_increment_aborted", "id", id)
	}
	return ok, nil
}
