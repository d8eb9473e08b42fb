// 包 mapview：双视图记忆地图控制器（二维图钉 / 三维实景模型）
// 地图 SDK、三维渲染与定位均以端口注入，控制器本身不依赖任何厂商实现。
package mapview

import (
	"context"
	"time"

	"memory-map/internal/entry"
	"memory-map/internal/geo"
)

// NodeID：渲染节点标识，由 Renderer 分配
type NodeID uint64

// Camera：地图视角
type Camera struct {
	Center geo.Point
	Zoom   float64
	Tilt   float64
}

// Content：弹窗内容
// 约束：CloseRange 为 true 时提供“点亮”操作（RevealLabel），否则附带 Hint 提示
type Content struct {
	EntryID      string
	LocationText string
	TimeText     string
	MemoryText   string
	CloseRange   bool
	Hint         string
	RevealLabel  string
}

// Map：二维地图与页面控件能力
type Map interface {
	SetCamera(c Camera)
	ShowPreview(p geo.Point)
	HidePreview()
	OpenPopup(at geo.Point, c Content)
	ClosePopup()
	SetStatus(text string)
	Alert(text string)
	SetLocationText(text string)
	ClearForm()
	ShowUserLocation(p geo.Point)
	SetLocationControls(visible bool)
	SetModeLabel(text string)
}

// Visual：可整体显隐的可视对象
type Visual interface {
	SetVisible(visible bool)
}

// FlatMarker：二维图钉
type FlatMarker interface {
	Visual
}

// Model：三维模型
type Model interface {
	Visual
	// Grow：在 d 时间内把缩放增加 delta，结果持久保留
	Grow(delta float64, d time.Duration)
}

// Renderer：可视对象工厂
// 约束：NewModel 返回该模型拥有的全部可拾取节点，控制器据此建立 节点 → 条目 的旁路表
type Renderer interface {
	NewFlatMarker(e entry.Entry, visible bool) FlatMarker
	NewModel(e entry.Entry, scale float64, visible bool) (Model, []NodeID)
}

// Locator：定位能力；拒绝授权或不支持时返回错误
type Locator interface {
	Locate(ctx context.Context) (geo.Point, error)
}
