package mapview

import (
	"context"

	"memory-map/internal/geo"
)

// Mode：视图模式
type Mode int

const (
	Overview Mode = iota
	InPerson
)

func (m Mode) String() string {
	if m == InPerson {
		return "in-person"
	}
	return "overview"
}

// 相机参数
const (
	ZoomClose    = 19
	TiltClose    = 45
	ZoomOverview = 14
	ZoomCity     = 10
)

const (
	modeLabelOn  = "In Person Mode: On"
	modeLabelOff = "In Person Mode: Off"
)

// 文档注释：切换视图模式，返回切换后的模式
// 背景：进入实景模式时隐藏图钉、显示模型并拉近倾斜；当前位置未知时先发起定位，成功后再拉近。
// 退出时恢复图钉、隐藏模型、关闭弹窗并回到俯视。
func (c *Controller) ToggleMode(ctx context.Context) (Mode, error) {
	var m Mode
	err := c.do(ctx, func() {
		if c.mode == Overview {
			c.enterInPerson(ctx)
		} else {
			c.leaveInPerson()
		}
		m = c.mode
	})
	return m, err
}

func (c *Controller) enterInPerson(ctx context.Context) {
	c.mode = InPerson
	c.m.SetModeLabel(modeLabelOn)
	c.reg.SetVisible(Volumetric, true)
	c.reg.SetVisible(Flat, false)
	if c.cur != nil {
		c.setCamera(*c.cur, ZoomClose, TiltClose)
		return
	}
	if c.loc == nil {
		return
	}
	// 定位一经发起不随调用方 ctx 取消
	lctx := context.WithoutCancel(ctx)
	go func() {
		p, err := c.locateOffLoop(lctx)
		if err != nil {
			return
		}
		c.post(func() {
			c.applyLocation(p)
			if c.mode == InPerson {
				c.setCamera(p, ZoomClose, TiltClose)
			}
		})
	}()
}

func (c *Controller) leaveInPerson() {
	c.mode = Overview
	c.m.SetModeLabel(modeLabelOff)
	c.reg.SetVisible(Flat, true)
	c.reg.SetVisible(Volumetric, false)
	c.m.ClosePopup()
	center := geo.NYCCenter
	if c.cur != nil {
		center = *c.cur
	}
	c.setCamera(center, ZoomOverview, 0)
}
