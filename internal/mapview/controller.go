package mapview

import (
	"context"
	"errors"
	"log/slog"

	"memory-map/internal/entry"
	"memory-map/internal/geo"
	"memory-map/internal/logger"
	"memory-map/internal/store"
)

var (
	ErrOutOfBounds         = errors.New("location outside nyc")
	ErrIncompleteForm      = errors.New("incomplete form")
	ErrNoSelection         = errors.New("no location chosen")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrNotCommitted        = errors.New("visit not committed")
	ErrUnknownEntry        = errors.New("unknown entry")
	ErrOutOfRange          = errors.New("entry not in close range")
	ErrWrongMode           = errors.New("not in in-person mode")
	ErrStopped             = errors.New("controller stopped")
)

// Options：控制器依赖
type Options struct {
	Map      Map
	Renderer Renderer
	Locator  Locator
	Store    *store.Adapter
	// Bounds 为空时使用内置 NYC 多边形
	Bounds *geo.Boundary
	// PanBox 为零值时使用 geo.NYCPanBounds
	PanBox      geo.Rect
	RequireTime bool
	Logger      *slog.Logger
}

// Controller：记忆地图控制器
// 背景：所有可变状态（待选坐标、两个注册表、视图模式、当前位置）只在 Run 协程内读写；
// 公开方法把闭包投递到 Run 协程并等待结果，远端与定位调用在协程外执行后再投递回来。
type Controller struct {
	m      Map
	loc    Locator
	st     *store.Adapter
	bounds *geo.Boundary
	pan    geo.Rect
	reqT   bool
	l      *slog.Logger

	reqs    chan func()
	started chan struct{}
	stopped chan struct{}

	// 以下仅由 Run 协程访问
	reg     *DualRegistry
	state   InteractionState
	pending *geo.Point
	invalid bool
	mode    Mode
	cur     *geo.Point
	loaded  bool
	early   []entry.Entry
	ready   chan struct{}
}

func New(o Options) *Controller {
	if o.Bounds == nil {
		o.Bounds = geo.NYCBoundary()
	}
	if o.PanBox == (geo.Rect{}) {
		o.PanBox = geo.NYCPanBounds
	}
	if o.Logger == nil {
		o.Logger = logger.L()
	}
	return &Controller{
		m:       o.Map,
		loc:     o.Locator,
		st:      o.Store,
		bounds:  o.Bounds,
		pan:     o.PanBox,
		reqT:    o.RequireTime,
		l:       o.Logger,
		reqs:    make(chan func()),
		started: make(chan struct{}),
		stopped: make(chan struct{}),
		reg:     NewDualRegistry(o.Renderer),
		ready:   make(chan struct{}),
	}
}

// 文档注释：运行控制器主循环，直到 ctx 结束
// 背景：启动顺序为 订阅新增（先缓存） → 初次读取并填充两个注册表 → 放行新增 → 一次不缩放的定位。
// 读取失败按空集合降级；订阅失败只记录日志。
func (c *Controller) Run(ctx context.Context) error {
	select {
	case <-c.started:
		return errors.New("controller already running")
	default:
		close(c.started)
	}
	defer close(c.stopped)

	if c.st != nil {
		if err := c.st.SubscribeToAdditions(ctx, func(e entry.Entry) {
			c.post(func() { c.onAddition(e) })
		}); err != nil {
			c.l.Warn("mapview_subscribe_error", "err", err)
		}
		go func() {
			list, err := c.st.FetchAllOnce(ctx)
			if err != nil {
				c.l.Warn("mapview_initial_load_degraded", "err", err)
			}
			c.post(func() { c.populate(list) })
		}()
	} else {
		c.populate(nil)
	}
	if c.loc != nil {
		go func() { _ = c.Locate(ctx, false) }()
	}

	for {
		select {
		case <-ctx.Done():
			c.l.Debug("mapview_stopped")
			return nil
		case fn := <-c.reqs:
			fn()
		}
	}
}

// post：异步投递；控制器已停止时丢弃
func (c *Controller) post(fn func()) {
	select {
	case c.reqs <- fn:
	case <-c.stopped:
	}
}

// do：投递并等待执行完成
func (c *Controller) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case c.reqs <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

func (c *Controller) populate(list []entry.Entry) {
	for _, e := range list {
		c.reg.AddFlat(e)
		c.reg.AddVolumetric(e)
	}
	c.loaded = true
	c.l.Info("mapview_initial_load", "count", len(list))
	queued := c.early
	c.early = nil
	for _, e := range queued {
		c.onAddition(e)
	}
	close(c.ready)
}

// onAddition：远端新增（含本会话创建的回显），插入即忽略重复
func (c *Controller) onAddition(e entry.Entry) {
	if !c.loaded {
		c.early = append(c.early, e)
		return
	}
	f := c.reg.AddFlat(e)
	v := c.reg.AddVolumetric(e)
	c.l.Debug("mapview_addition", "id", e.ID, "flat_added", f, "volumetric_added", v)
}

// Ready：初次读取完成并填充注册表后关闭
func (c *Controller) Ready() <-chan struct{} { return c.ready }

// State：控制器状态快照
type State struct {
	Interaction   InteractionState
	Mode          Mode
	Pending       *geo.Point
	Invalid       bool
	Location      *geo.Point
	FlatIDs       []string
	VolumetricIDs []string
	FlatVisible   bool
	VolumeVisible bool
	InitialLoaded bool
}

func (c *Controller) Snapshot(ctx context.Context) (State, error) {
	var s State
	err := c.do(ctx, func() {
		s = State{
			Interaction:   c.state,
			Mode:          c.mode,
			Pending:       clonePoint(c.pending),
			Invalid:       c.invalid,
			Location:      clonePoint(c.cur),
			FlatIDs:       c.reg.IDs(Flat),
			VolumetricIDs: c.reg.IDs(Volumetric),
			FlatVisible:   c.reg.Visible(Flat),
			VolumeVisible: c.reg.Visible(Volumetric),
			InitialLoaded: c.loaded,
		}
	})
	return s, err
}

// Entry：按 ID 读取本地投影中的条目
func (c *Controller) Entry(ctx context.Context, id string) (entry.Entry, bool, error) {
	var (
		e  entry.Entry
		ok bool
	)
	err := c.do(ctx, func() { e, ok = c.reg.Entry(id) })
	return e, ok, err
}

func clonePoint(p *geo.Point) *geo.Point {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func (c *Controller) setCamera(center geo.Point, zoom, tilt float64) {
	c.m.SetCamera(Camera{Center: c.pan.Clamp(center), Zoom: zoom, Tilt: tilt})
}
