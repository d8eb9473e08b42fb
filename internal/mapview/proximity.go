package mapview

import (
	"context"
	"fmt"
	"time"

	"memory-map/internal/entry"
	"memory-map/internal/geo"
)

// 近距离判定与生长动画参数
const (
	CloseRangeMeters = 100.0
	GrowDelta        = 3.0
	GrowDuration     = 3 * time.Second
)

const (
	HintFar     = "visit in-person to interact"
	RevealLabel = "☀ shed light on memory"
)

func contentFor(e entry.Entry, closeRange bool) Content {
	c := Content{
		EntryID:      e.ID,
		LocationText: e.LocationText,
		TimeText:     e.TimeText,
		MemoryText:   e.MemoryText,
		CloseRange:   closeRange,
	}
	if closeRange {
		c.RevealLabel = RevealLabel
	} else {
		c.Hint = HintFar
	}
	return c
}

// inRange：当前位置未知视为远距离
func (c *Controller) inRange(e entry.Entry) (float64, bool) {
	if c.cur == nil {
		return -1, false
	}
	d := geo.Distance(*c.cur, e.Coords)
	return d, d < CloseRangeMeters
}

// 文档注释：三维拾取
// 背景：仅在实景模式下生效；通过旁路表把节点解析为条目，未登记节点直接忽略。
// 返回：展示的弹窗内容与是否已展示
func (c *Controller) Pick(ctx context.Context, node NodeID) (Content, bool, error) {
	var (
		out   Content
		shown bool
	)
	err := c.do(ctx, func() {
		if c.mode != InPerson {
			return
		}
		id, ok := c.reg.Owner(node)
		if !ok {
			c.l.Debug("mapview_pick_ignored", "node", uint64(node))
			return
		}
		e, ok := c.reg.Entry(id)
		if !ok {
			return
		}
		d, near := c.inRange(e)
		out = contentFor(e, near)
		shown = true
		c.m.OpenPopup(e.Coords, out)
		c.l.Debug("mapview_pick", "id", id, "distance_m", d, "close_range", near)
	})
	return out, shown, err
}

// ClickMarker：二维图钉点击，总是展示普通内容
func (c *Controller) ClickMarker(ctx context.Context, id string) (Content, error) {
	var (
		out Content
		err error
	)
	if e := c.do(ctx, func() {
		en, ok := c.reg.Entry(id)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownEntry, id)
			return
		}
		out = contentFor(en, false)
		c.m.OpenPopup(en.Coords, out)
	}); e != nil {
		return Content{}, e
	}
	return out, err
}

// 文档注释：点亮记忆（近距离操作）
// 背景：需处于实景模式且距离小于 100 米；递增在 Run 协程外完成，提交后关闭弹窗并让模型持续生长。
// 返回：未提交时返回 ErrNotCommitted，界面无任何变化
func (c *Controller) Reveal(ctx context.Context, id string) error {
	var err error
	if e := c.do(ctx, func() {
		if c.mode != InPerson {
			err = ErrWrongMode
			return
		}
		en, ok := c.reg.Entry(id)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownEntry, id)
			return
		}
		if _, near := c.inRange(en); !near {
			err = ErrOutOfRange
			return
		}
		if c.st == nil {
			err = ErrNotCommitted
		}
	}); e != nil {
		return e
	}
	if err != nil {
		return err
	}

	committed, err := c.st.IncrementVisitCount(ctx, id)
	if err != nil {
		c.l.Warn("mapview_reveal_error", "id", id, "err", err)
		return fmt.Errorf("%w: %w", ErrNotCommitted, err)
	}
	if !committed {
		c.l.Info("mapview_reveal_not_committed", "id", id)
		return ErrNotCommitted
	}
	return c.do(ctx, func() {
		c.m.ClosePopup()
		c.reg.bumpVisits(id)
		if m, ok := c.reg.FindVolumetric(id); ok {
			m.Grow(GrowDelta, GrowDuration)
		}
	})
}

// 文档注释：定位
// 背景：定位在 Run 协程外执行；成功后记录位置、显示用户标记与定位相关控件，zoom 为 true 时拉近。
// 返回：失败时返回包裹 ErrLocationUnavailable 的错误，相关控件保持隐藏
func (c *Controller) Locate(ctx context.Context, zoom bool) error {
	p, err := c.locateOffLoop(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, func() {
		c.applyLocation(p)
		if zoom {
			c.setCamera(p, ZoomClose, TiltClose)
		}
	})
}

func (c *Controller) locateOffLoop(ctx context.Context) (geo.Point, error) {
	if c.loc == nil {
		return geo.Point{}, ErrLocationUnavailable
	}
	p, err := c.loc.Locate(ctx)
	if err != nil {
		c.l.Info("mapview_locate_failed", "err", err)
		return geo.Point{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	return p, nil
}

func (c *Controller) applyLocation(p geo.Point) {
	pt := p
	c.cur = &pt
	c.m.ShowUserLocation(p)
	c.m.SetLocationControls(true)
	c.l.Debug("mapview_location", "lat", p.Lat, "lng", p.Lng)
}
