package mapview

import (
	"context"
	"errors"
	"sync"
	"time"

	"memory-map/internal/entry"
	"memory-map/internal/geo"
)

type mapState struct {
	cameras       []Camera
	preview       *geo.Point
	status        string
	alerts        []string
	popupOpen     bool
	popupAt       geo.Point
	popup         Content
	locationText  string
	formCleared   int
	userLoc       *geo.Point
	controls      bool
	controlsCalls int
	modeLabel     string
}

type fakeMap struct {
	mu sync.Mutex
	s  mapState
}

func (f *fakeMap) snap() mapState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.s
	s.cameras = append([]Camera(nil), f.s.cameras...)
	s.alerts = append([]string(nil), f.s.alerts...)
	return s
}

func (f *fakeMap) lastCamera() (Camera, bool) {
	s := f.snap()
	if len(s.cameras) == 0 {
		return Camera{}, false
	}
	return s.cameras[len(s.cameras)-1], true
}

func (f *fakeMap) SetCamera(c Camera) {
	f.mu.Lock()
	f.s.cameras = append(f.s.cameras, c)
	f.mu.Unlock()
}

func (f *fakeMap) ShowPreview(p geo.Point) {
	f.mu.Lock()
	f.s.preview = &p
	f.mu.Unlock()
}

func (f *fakeMap) HidePreview() {
	f.mu.Lock()
	f.s.preview = nil
	f.mu.Unlock()
}

func (f *fakeMap) OpenPopup(at geo.Point, c Content) {
	f.mu.Lock()
	f.s.popupOpen, f.s.popupAt, f.s.popup = true, at, c
	f.mu.Unlock()
}

func (f *fakeMap) ClosePopup() {
	f.mu.Lock()
	f.s.popupOpen = false
	f.mu.Unlock()
}

func (f *fakeMap) SetStatus(text string) {
	f.mu.Lock()
	f.s.status = text
	f.mu.Unlock()
}

func (f *fakeMap) Alert(text string) {
	f.mu.Lock()
	f.s.alerts = append(f.s.alerts, text)
	f.mu.Unlock()
}

func (f *fakeMap) SetLocationText(text string) {
	f.mu.Lock()
	f.s.locationText = text
	f.mu.Unlock()
}

func (f *fakeMap) ClearForm() {
	f.mu.Lock()
	f.s.formCleared++
	f.s.locationText = ""
	f.mu.Unlock()
}

func (f *fakeMap) ShowUserLocation(p geo.Point) {
	f.mu.Lock()
	f.s.userLoc = &p
	f.mu.Unlock()
}

func (f *fakeMap) SetLocationControls(visible bool) {
	f.mu.Lock()
	f.s.controls = visible
	f.s.controlsCalls++
	f.mu.Unlock()
}

func (f *fakeMap) SetModeLabel(text string) {
	f.mu.Lock()
	f.s.modeLabel = text
	f.mu.Unlock()
}

type fakeMarker struct {
	mu      sync.Mutex
	id      string
	visible bool
}

func (m *fakeMarker) SetVisible(v bool) {
	m.mu.Lock()
	m.visible = v
	m.mu.Unlock()
}

func (m *fakeMarker) isVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

type growCall struct {
	delta float64
	d     time.Duration
}

type fakeModel struct {
	fakeMarker
	scale float64
	nodes []NodeID
	grows []growCall
}

func (m *fakeModel) Grow(delta float64, d time.Duration) {
	m.mu.Lock()
	m.grows = append(m.grows, growCall{delta, d})
	m.scale += delta
	m.mu.Unlock()
}

func (m *fakeModel) growCalls() []growCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]growCall(nil), m.grows...)
}

type fakeRenderer struct {
	mu      sync.Mutex
	next    NodeID
	markers []*fakeMarker
	models  map[string]*fakeModel
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{models: make(map[string]*fakeModel)}
}

func (r *fakeRenderer) NewFlatMarker(e entry.Entry, visible bool) FlatMarker {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := &fakeMarker{id: e.ID, visible: visible}
	r.markers = append(r.markers, m)
	return m
}

// NewModel：每个模型两个可拾取节点（花茎、花瓣）
func (r *fakeRenderer) NewModel(e entry.Entry, scale float64, visible bool) (Model, []NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next += 2
	m := &fakeModel{fakeMarker: fakeMarker{id: e.ID, visible: visible}, scale: scale, nodes: []NodeID{r.next - 1, r.next}}
	r.models[e.ID] = m
	return m, m.nodes
}

func (r *fakeRenderer) model(id string) *fakeModel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.models[id]
}

func (r *fakeRenderer) counts() (flat, vol int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.markers), len(r.models)
}

var errDenied = errors.New("user denied geolocation")

type fakeLocator struct {
	mu    sync.Mutex
	p     geo.Point
	err   error
	gate  chan struct{}
	calls int
}

func (l *fakeLocator) Locate(ctx context.Context) (geo.Point, error) {
	l.mu.Lock()
	l.calls++
	gate := l.gate
	l.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return geo.Point{}, ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p, l.err
}
