package mapview

import (
	"memory-map/internal/entry"
)

// Kind：注册表类别
type Kind int

const (
	Flat Kind = iota
	Volumetric
)

func (k Kind) String() string {
	if k == Volumetric {
		return "volumetric"
	}
	return "flat"
}

// Registry：按条目 ID 索引的有序可视对象集合
// 约束：插入即忽略重复；隐藏只抑制渲染不丢弃条目；隐藏期间新增的对象以隐藏状态创建
type Registry[T Visual] struct {
	order   []string
	items   map[string]T
	visible bool
}

func NewRegistry[T Visual](visible bool) *Registry[T] {
	return &Registry[T]{items: make(map[string]T), visible: visible}
}

// Add：id 已存在时返回 false 且不调用 create
func (r *Registry[T]) Add(id string, create func(visible bool) T) bool {
	if _, ok := r.items[id]; ok {
		return false
	}
	r.items[id] = create(r.visible)
	r.order = append(r.order, id)
	return true
}

func (r *Registry[T]) Find(id string) (T, bool) {
	v, ok := r.items[id]
	return v, ok
}

func (r *Registry[T]) SetVisible(visible bool) {
	r.visible = visible
	for _, id := range r.order {
		r.items[id].SetVisible(visible)
	}
}

func (r *Registry[T]) Visible() bool { return r.visible }

func (r *Registry[T]) Len() int { return len(r.order) }

// IDs：按插入顺序返回
func (r *Registry[T]) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ModelBaseScale：三维模型的基础缩放，实际初始缩放为 基础值 + 访问次数
const ModelBaseScale = 10.0

// DualRegistry：同一条目集合的两种可视投影
// 约束：两侧共用条目 ID；nodes 旁路表把渲染节点映射到所属条目
type DualRegistry struct {
	r       Renderer
	flat    *Registry[FlatMarker]
	vol     *Registry[Model]
	entries map[string]entry.Entry
	nodes   map[NodeID]string
}

// NewDualRegistry：初始为二维视图（图钉可见，模型隐藏）
func NewDualRegistry(r Renderer) *DualRegistry {
	return &DualRegistry{
		r:       r,
		flat:    NewRegistry[FlatMarker](true),
		vol:     NewRegistry[Model](false),
		entries: make(map[string]entry.Entry),
		nodes:   make(map[NodeID]string),
	}
}

func (d *DualRegistry) remember(e entry.Entry) {
	if _, ok := d.entries[e.ID]; !ok {
		d.entries[e.ID] = e
	}
}

func (d *DualRegistry) AddFlat(e entry.Entry) bool {
	added := d.flat.Add(e.ID, func(visible bool) FlatMarker {
		return d.r.NewFlatMarker(e, visible)
	})
	if added {
		d.remember(e)
	}
	return added
}

func (d *DualRegistry) AddVolumetric(e entry.Entry) bool {
	added := d.vol.Add(e.ID, func(visible bool) Model {
		m, nodes := d.r.NewModel(e, ModelBaseScale+float64(e.NumVisits), visible)
		for _, n := range nodes {
			d.nodes[n] = e.ID
		}
		return m
	})
	if added {
		d.remember(e)
	}
	return added
}

func (d *DualRegistry) FindFlat(id string) (FlatMarker, bool) { return d.flat.Find(id) }

func (d *DualRegistry) FindVolumetric(id string) (Model, bool) { return d.vol.Find(id) }

// Entry：条目展示数据
func (d *DualRegistry) Entry(id string) (entry.Entry, bool) {
	e, ok := d.entries[id]
	return e, ok
}

// Owner：节点所属条目 ID；未登记的节点返回 false
func (d *DualRegistry) Owner(n NodeID) (string, bool) {
	id, ok := d.nodes[n]
	return id, ok
}

func (d *DualRegistry) SetVisible(k Kind, visible bool) {
	if k == Volumetric {
		d.vol.SetVisible(visible)
		return
	}
	d.flat.SetVisible(visible)
}

func (d *DualRegistry) Visible(k Kind) bool {
	if k == Volumetric {
		return d.vol.Visible()
	}
	return d.flat.Visible()
}

func (d *DualRegistry) Len(k Kind) int {
	if k == Volumetric {
		return d.vol.Len()
	}
	return d.flat.Len()
}

func (d *DualRegistry) IDs(k Kind) []string {
	if k == Volumetric {
		return d.vol.IDs()
	}
	return d.flat.IDs()
}

// bumpVisits：本地展示数据的访问次数 +1
func (d *DualRegistry) bumpVisits(id string) {
	if e, ok := d.entries[id]; ok {
		e.NumVisits++
		d.entries[id] = e
	}
}
