package mapview

import (
	"context"
	"errors"
	"fmt"

	"memory-map/internal/entry"
	"memory-map/internal/geo"
)

// InteractionState：选点交互状态
type InteractionState int

const (
	Idle InteractionState = iota
	PendingSelection
	Submitting
)

func (s InteractionState) String() string {
	switch s {
	case PendingSelection:
		return "pending"
	case Submitting:
		return "submitting"
	}
	return "idle"
}

// 状态栏与提示文案
const (
	StatusOutside    = "oops, this isn't nyc anymore..."
	StatusPrompt     = "click on the map to drop a pin!"
	AlertIncomplete  = "Finish all of the steps to submit a memory!"
	statusClickedFmt = "clicked on (%.3f, %.3f)"
	statusSearchFmt  = "searched up (%.3f, %.3f)"
)

// Form：提交表单的文本字段；坐标取自当前待选点
type Form struct {
	LocationText string
	TimeText     string
	MemoryText   string
}

// InBounds：坐标是否位于参考多边形内，与相机平移矩形无关
func (c *Controller) InBounds(p geo.Point) bool {
	return c.bounds.Contains(p)
}

// Click：地图点击选点；界外返回 ErrOutOfBounds
func (c *Controller) Click(ctx context.Context, p geo.Point) error {
	var err error
	if e := c.do(ctx, func() {
		c.m.ClosePopup()
		err = c.choose(p, statusClickedFmt)
	}); e != nil {
		return e
	}
	return err
}

// Search：搜索结果选点；合法时回填地点文本并拉近，界外时清空地点文本并完全缩小
func (c *Controller) Search(ctx context.Context, name string, p geo.Point) error {
	var err error
	if e := c.do(ctx, func() {
		err = c.choose(p, statusSearchFmt)
		if err != nil {
			c.m.SetLocationText("")
			c.setCamera(geo.NYCCenter, ZoomCity, 0)
			return
		}
		c.m.SetLocationText(name)
		c.setCamera(p, ZoomClose, TiltClose)
	}); e != nil {
		return e
	}
	return err
}

// choose：在 Run 协程内执行
func (c *Controller) choose(p geo.Point, statusFmt string) error {
	if !c.InBounds(p) {
		c.m.HidePreview()
		c.pending = nil
		c.invalid = true
		c.state = Idle
		c.m.SetStatus(StatusOutside)
		c.l.Debug("mapview_choose_out_of_bounds", "lat", p.Lat, "lng", p.Lng)
		return fmt.Errorf("%w: (%.5f, %.5f)", ErrOutOfBounds, p.Lat, p.Lng)
	}
	pt := p
	c.pending = &pt
	c.invalid = false
	c.state = PendingSelection
	c.m.ShowPreview(p)
	c.m.SetStatus(fmt.Sprintf(statusFmt, p.Lat, p.Lng))
	return nil
}

// Hover：未选点时根据指针位置提示
func (c *Controller) Hover(ctx context.Context, p geo.Point) error {
	return c.do(ctx, func() {
		if c.pending != nil {
			return
		}
		if c.InBounds(p) {
			c.m.SetStatus(StatusPrompt)
		} else {
			c.m.SetStatus(StatusOutside)
		}
	})
}

// HoverPanel：指针移入侧栏；上一次选点非法时保留界外提示
func (c *Controller) HoverPanel(ctx context.Context) error {
	return c.do(ctx, func() {
		if c.pending == nil && !c.invalid {
			c.m.SetStatus(StatusPrompt)
		}
	})
}

// 文档注释：提交表单创建记忆
// 背景：校验全部必填项与待选坐标；缺项时弹出阻塞提示并保持原状态，不调用存储。
// 成功时隐藏预览、创建条目并直接加入两个注册表、打开新条目弹窗、清空表单与待选坐标。
// 返回：本地生成的条目 ID；远端写入在后台完成，失败只记录日志。
func (c *Controller) Submit(ctx context.Context, f Form) (string, error) {
	var (
		id  string
		err error
	)
	if e := c.do(ctx, func() { id, err = c.submit(ctx, f) }); e != nil {
		return "", e
	}
	return id, err
}

func (c *Controller) submit(ctx context.Context, f Form) (string, error) {
	d := entry.Draft{
		Coords:       clonePoint(c.pending),
		LocationText: f.LocationText,
		TimeText:     f.TimeText,
		MemoryText:   f.MemoryText,
		RequireTime:  c.reqT,
	}
	if err := d.Validate(); err != nil {
		c.m.Alert(AlertIncomplete)
		if c.pending == nil {
			err = errors.Join(err, ErrNoSelection)
		}
		return "", fmt.Errorf("%w: %w", ErrIncompleteForm, err)
	}
	if c.st == nil {
		return "", errors.New("submit: no store configured")
	}
	c.state = Submitting
	c.m.HidePreview()

	e := d.Entry()
	id, done := c.st.Create(ctx, e)
	e.ID = id
	c.reg.AddFlat(e)
	c.reg.AddVolumetric(e)
	c.m.OpenPopup(e.Coords, contentFor(e, false))
	go func() {
		if err := <-done; err != nil {
			c.l.Error("mapview_create_failed", "id", id, "err", err)
		}
	}()

	c.m.ClearForm()
	c.pending = nil
	c.state = Idle
	c.l.Info("mapview_memory_created", "id", id)
	return id, nil
}
