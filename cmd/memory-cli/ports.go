package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"memory-map/internal/entry"
	"memory-map/internal/geo"
	"memory-map/internal/mapview"
)

// consoleMap：把地图与页面控件事件打印到终端
type consoleMap struct {
	mu sync.Mutex
	w  io.Writer
}

func (m *consoleMap) printf(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.w, format+"\n", args...)
}

func (m *consoleMap) SetCamera(c mapview.Camera) {
	m.printf("[camera] (%.5f, %.5f) zoom=%.0f tilt=%.0f", c.Center.Lat, c.Center.Lng, c.Zoom, c.Tilt)
}
func (m *consoleMap) ShowPreview(p geo.Point) { m.printf("[pin] (%.5f, %.5f)", p.Lat, p.Lng) }
func (m *consoleMap) HidePreview() { m.printf("[pin] hidden") }
func (m *consoleMap) OpenPopup(at geo.Point, c mapview.Content) {
	m.printf("[popup] %s @ (%.5f, %.5f)\n  %s\n  %s\n  %s", c.EntryID, at.Lat, at.Lng, c.LocationText, c.TimeText, c.MemoryText)
	if c.CloseRange {
		m.printf("  > %s (reveal %s)", c.RevealLabel, c.EntryID)
	} else {
		m.printf("  (%s)", c.Hint)
	}
}
func (m *consoleMap) ClosePopup() { m.printf("[popup] closed") }
func (m *consoleMap) SetStatus(text string) { m.printf("[status] %s", text) }
func (m *consoleMap) Alert(text string) { m.printf("[alert] %s", text) }
func (m *consoleMap) SetLocationText(text string) { m.printf("[form] location=%q", text) }
func (m *consoleMap) ClearForm() { m.printf("[form] cleared") }
func (m *consoleMap) ShowUserLocation(p geo.Point) {
	m.printf("[you] (%.5f, %.5f)", p.Lat, p.Lng)
}
func (m *consoleMap) SetLocationControls(visible bool) { m.printf("[controls] location=%v", visible) }
func (m *consoleMap) SetModeLabel(text string) { m.printf("[mode] %s", text) }

type consoleVisual struct {
	m     *consoleMap
	kind  string
	id    string
	scale float64
}

func (v *consoleVisual) SetVisible(visible bool) {}

func (v *consoleVisual) Grow(delta float64, d time.Duration) {
	v.scale += delta
	v.m.printf("[%s] %s grows to %.0f over %s", v.kind, v.id, v.scale, d)
}

// consoleRenderer：终端下没有真实图形，只分配节点编号
type consoleRenderer struct {
	m    *consoleMap
	next atomic.Uint64
}

func (r *consoleRenderer) NewFlatMarker(e entry.Entry, visible bool) mapview.FlatMarker {
	return &consoleVisual{m: r.m, kind: "marker", id: e.ID}
}

func (r *consoleRenderer) NewModel(e entry.Entry, scale float64, visible bool) (mapview.Model, []mapview.NodeID) {
	n := mapview.NodeID(r.next.Add(1))
	return &consoleVisual{m: r.m, kind: "model", id: e.ID, scale: scale}, []mapview.NodeID{n}
}

var errNoFix = errors.New("location unknown; use loc <lat> <lng>")

// fixedLocator：位置由 loc 命令或 MEMORY_CLI_LAT/LNG 设定
type fixedLocator struct {
	mu sync.Mutex
	p  *geo.Point
}

func (l *fixedLocator) set(p geo.Point) {
	l.mu.Lock()
	l.p = &p
	l.mu.Unlock()
}

func (l *fixedLocator) Locate(ctx context.Context) (geo.Point, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.p == nil {
		return geo.Point{}, errNoFix
	}
	return *l.p, nil
}
