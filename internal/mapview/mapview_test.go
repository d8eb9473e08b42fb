package mapview

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memory-map/internal/entry"
	"memory-map/internal/geo"
	"memory-map/internal/store"
)

var (
	bryantPark = geo.Point{Lat: 40.7536, Lng: -73.9832}
	newark     = geo.Point{Lat: 40.7357, Lng: -74.1724}
	// 约 50 米与 500 米（纬度方向）
	near50  = geo.Point{Lat: bryantPark.Lat + 0.00045, Lng: bryantPark.Lng}
	far500  = geo.Point{Lat: bryantPark.Lat + 0.0045, Lng: bryantPark.Lng}
	quietLg = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type harness struct {
	c   *Controller
	m   *fakeMap
	r   *fakeRenderer
	loc *fakeLocator
	mb  *store.MemoryBackend
	ctx context.Context
}

type harnessOpt func(*Options, *harness)

func withBackend(b store.Backend) harnessOpt {
	return func(o *Options, h *harness) { o.Store = store.NewAdapter(b, quietLg) }
}

func withRequireTime() harnessOpt {
	return func(o *Options, _ *harness) { o.RequireTime = true }
}

func newHarness(t *testing.T, seed []entry.Entry, opts ...harnessOpt) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		m:   &fakeMap{},
		r:   newFakeRenderer(),
		loc: &fakeLocator{err: errDenied},
		mb:  store.NewMemoryBackend(),
		ctx: ctx,
	}
	for _, e := range seed {
		require.NoError(t, h.mb.Insert(ctx, e))
	}
	o := Options{Map: h.m, Renderer: h.r, Locator: h.loc, Store: store.NewAdapter(h.mb, quietLg), Logger: quietLg}
	for _, fn := range opts {
		fn(&o, h)
	}
	h.c = New(o)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-h.c.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("controller not ready")
	}
	return h
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	s, err := h.c.Snapshot(h.ctx)
	require.NoError(t, err)
	return s
}

// setLocation：让下一次定位成功并同步执行
func (h *harness) setLocation(t *testing.T, p geo.Point) {
	t.Helper()
	h.loc.mu.Lock()
	h.loc.p, h.loc.err = p, nil
	h.loc.mu.Unlock()
	require.NoError(t, h.c.Locate(h.ctx, false))
}

func mem(id string, p geo.Point) entry.Entry {
	return entry.Entry{ID: id, Coords: p, LocationText: "loc " + id, TimeText: "fall 2021", MemoryText: "mem " + id}
}

func TestInitialLoadPopulatesBothRegistries(t *testing.T) {
	h := newHarness(t, []entry.Entry{mem("a", bryantPark), mem("b", far500)})
	s := h.state(t)
	assert.True(t, s.InitialLoaded)
	assert.Equal(t, []string{"a", "b"}, s.FlatIDs)
	assert.Equal(t, []string{"a", "b"}, s.VolumetricIDs)
	assert.True(t, s.FlatVisible)
	assert.False(t, s.VolumeVisible)
	assert.False(t, h.r.model("a").isVisible(), "models start hidden in overview")
}

func TestAdditionsAfterLoadAppearOnce(t *testing.T) {
	h := newHarness(t, []entry.Entry{mem("a", bryantPark)})
	require.NoError(t, h.mb.Insert(h.ctx, mem("b", near50)))

	require.Eventually(t, func() bool {
		return len(h.state(t).FlatIDs) == 2
	}, 2*time.Second, 10*time.Millisecond)
	s := h.state(t)
	assert.Equal(t, []string{"a", "b"}, s.FlatIDs)
	assert.Equal(t, []string{"a", "b"}, s.VolumetricIDs)
	flat, vol := h.r.counts()
	assert.Equal(t, 2, flat)
	assert.Equal(t, 2, vol)
}

type failingList struct{ *store.MemoryBackend }

func (failingList) List(context.Context) ([]entry.Entry, error) {
	return nil, errors.New("permission denied")
}

func TestInitialLoadFailureDegradesToEmpty(t *testing.T) {
	mb := store.NewMemoryBackend()
	h := newHarness(t, nil, withBackend(failingList{mb}))
	s := h.state(t)
	assert.True(t, s.InitialLoaded)
	assert.Empty(t, s.FlatIDs)

	require.NoError(t, mb.Insert(h.ctx, mem("late", bryantPark)))
	require.Eventually(t, func() bool {
		return len(h.state(t).VolumetricIDs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClickInsideBounds(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.Click(h.ctx, bryantPark))

	ms := h.m.snap()
	assert.Equal(t, "clicked on (40.754, -73.983)", ms.status)
	require.NotNil(t, ms.preview)
	assert.Equal(t, bryantPark, *ms.preview)

	s := h.state(t)
	assert.Equal(t, PendingSelection, s.Interaction)
	require.NotNil(t, s.Pending)
	assert.Equal(t, bryantPark, *s.Pending)
	assert.False(t, s.Invalid)
}

func TestClickOutsideBounds(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.Click(h.ctx, bryantPark))

	err := h.c.Click(h.ctx, newark)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	ms := h.m.snap()
	assert.Equal(t, StatusOutside, ms.status)
	assert.Nil(t, ms.preview)

	s := h.state(t)
	assert.Equal(t, Idle, s.Interaction)
	assert.Nil(t, s.Pending)
	assert.True(t, s.Invalid)
}

func TestClickClosesPopup(t *testing.T) {
	h := newHarness(t, []entry.Entry{mem("a", bryantPark)})
	_, err := h.c.ClickMarker(h.ctx, "a")
	require.NoError(t, err)
	require.True(t, h.m.snap().popupOpen)

	require.NoError(t, h.c.Click(h.ctx, near50))
	assert.False(t, h.m.snap().popupOpen)
}

func TestInBoundsIgnoresPanBox(t *testing.T) {
	h := newHarness(t, nil)
	// 在平移矩形内但在多边形外
	p := geo.Point{Lat: 40.75, Lng: -74.30}
	require.True(t, geo.NYCPanBounds.Contains(p))
	assert.False(t, h.c.InBounds(p))
	assert.True(t, h.c.InBounds(bryantPark))
}

func TestSearch(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.c.Search(h.ctx, "Bryant Park", bryantPark))
	ms := h.m.snap()
	assert.Equal(t, "searched up (40.754, -73.983)", ms.status)
	assert.Equal(t, "Bryant Park", ms.locationText)
	cam, ok := h.m.lastCamera()
	require.True(t, ok)
	assert.Equal(t, Camera{Center: bryantPark, Zoom: ZoomClose, Tilt: TiltClose}, cam)

	err := h.c.Search(h.ctx, "Newark Airport", newark)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	ms = h.m.snap()
	assert.Equal(t, StatusOutside, ms.status)
	assert.Empty(t, ms.locationText)
	cam, _ = h.m.lastCamera()
	assert.Equal(t, Camera{Center: geo.NYCCenter, Zoom: ZoomCity, Tilt: 0}, cam)
	assert.Nil(t, h.state(t).Pending)
}

func TestHover(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.Hover(h.ctx, newark))
	assert.Equal(t, StatusOutside, h.m.snap().status)
	require.NoError(t, h.c.Hover(h.ctx, bryantPark))
	assert.Equal(t, StatusPrompt, h.m.snap().status)

	// 非法选点后移入侧栏保留界外提示
	_ = h.c.Click(h.ctx, newark)
	require.NoError(t, h.c.HoverPanel(h.ctx))
	assert.Equal(t, StatusOutside, h.m.snap().status)

	// 已选点时悬停不改状态栏
	require.NoError(t, h.c.Click(h.ctx, bryantPark))
	require.NoError(t, h.c.Hover(h.ctx, newark))
	assert.Equal(t, "clicked on (40.754, -73.983)", h.m.snap().status)
}

func TestSubmitCreatesEntry(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.Click(h.ctx, bryantPark))

	id, err := h.c.Submit(h.ctx, Form{LocationText: "bryant park", TimeText: "summer", MemoryText: "outdoor movie"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	s := h.state(t)
	assert.Equal(t, Idle, s.Interaction)
	assert.Nil(t, s.Pending)
	assert.Equal(t, []string{id}, s.FlatIDs)
	assert.Equal(t, []string{id}, s.VolumetricIDs)

	ms := h.m.snap()
	assert.Nil(t, ms.preview)
	assert.Equal(t, 1, ms.formCleared)
	assert.True(t, ms.popupOpen)
	assert.Equal(t, bryantPark, ms.popupAt)
	assert.Equal(t, id, ms.popup.EntryID)

	require.Eventually(t, func() bool {
		_, err := h.mb.Get(h.ctx, id)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	got, _ := h.mb.Get(h.ctx, id)
	assert.Zero(t, got.NumVisits)
	assert.Equal(t, "outdoor movie", got.MemoryText)
	assert.Equal(t, bryantPark, got.Coords)

	// 远端回显不产生重复
	assert.Never(t, func() bool {
		flat, vol := h.r.counts()
		return flat > 1 || vol > 1
	}, 150*time.Millisecond, 10*time.Millisecond)
}

func TestSubmitIncompleteForm(t *testing.T) {
	h := newHarness(t, nil, withRequireTime())
	require.NoError(t, h.c.Click(h.ctx, bryantPark))

	_, err := h.c.Submit(h.ctx, Form{LocationText: "bryant park", MemoryText: "x"})
	require.ErrorIs(t, err, ErrIncompleteForm)
	assert.ErrorIs(t, err, entry.ErrMissingFields)
	assert.Equal(t, []string{AlertIncomplete}, h.m.snap().alerts)

	s := h.state(t)
	assert.Equal(t, PendingSelection, s.Interaction)
	assert.NotNil(t, s.Pending)
	assert.Empty(t, s.FlatIDs)

	list, err := h.mb.List(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSubmitWithoutSelection(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.c.Submit(h.ctx, Form{LocationText: "a", TimeText: "b", MemoryText: "c"})
	assert.ErrorIs(t, err, ErrIncompleteForm)
	assert.ErrorIs(t, err, ErrNoSelection)
	assert.Len(t, h.m.snap().alerts, 1)
}

func TestToggleInPersonWithKnownLocation(t *testing.T) {
	h := newHarness(t, []entry.Entry{mem("a", near50)})
	h.setLocation(t, bryantPark)

	mode, err := h.c.ToggleMode(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, InPerson, mode)

	s := h.state(t)
	assert.False(t, s.FlatVisible)
	assert.True(t, s.VolumeVisible)
	assert.True(t, h.r.model("a").isVisible())
	cam, _ := h.m.lastCamera()
	assert.Equal(t, Camera{Center: bryantPark, Zoom: ZoomClose, Tilt: TiltClose}, cam)
	assert.Equal(t, "In Person Mode: On", h.m.snap().modeLabel)

	_, _, err = h.c.Pick(h.ctx, h.r.model("a").nodes[0])
	require.NoError(t, err)
	require.True(t, h.m.snap().popupOpen)

	mode, err = h.c.ToggleMode(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Overview, mode)
	s = h.state(t)
	assert.True(t, s.FlatVisible)
	assert.False(t, s.VolumeVisible)
	ms := h.m.snap()
	assert.False(t, ms.popupOpen)
	assert.Equal(t, "In Person Mode: Off", ms.modeLabel)
	cam, _ = h.m.lastCamera()
	assert.Equal(t, Camera{Center: bryantPark, Zoom: ZoomOverview, Tilt: 0}, cam)
}

func TestToggleInPersonLocatesFirst(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, nil, func(o *Options, h *harness) {
		h.loc.gate = gate
		h.loc.p, h.loc.err = bryantPark, nil
	})

	_, err := h.c.ToggleMode(h.ctx)
	require.NoError(t, err)
	_, ok := h.m.lastCamera()
	assert.False(t, ok, "camera waits for a location")

	close(gate)
	require.Eventually(t, func() bool {
		cam, ok := h.m.lastCamera()
		return ok && cam.Zoom == ZoomClose && cam.Center == bryantPark
	}, 2*time.Second, 10*time.Millisecond)
	ms := h.m.snap()
	assert.True(t, ms.controls)
	require.NotNil(t, ms.userLoc)
}

func TestToggleLocateOutlivesCallerContext(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, nil, func(o *Options, h *harness) {
		h.loc.gate = gate
		h.loc.p, h.loc.err = bryantPark, nil
	})

	callCtx, cancel := context.WithCancel(h.ctx)
	_, err := h.c.ToggleMode(callCtx)
	require.NoError(t, err)
	cancel()

	close(gate)
	require.Eventually(t, func() bool {
		cam, ok := h.m.lastCamera()
		return ok && cam.Zoom == ZoomClose && cam.Center == bryantPark
	}, 2*time.Second, 10*time.Millisecond)
	s := h.state(t)
	require.NotNil(t, s.Location)
	assert.Equal(t, bryantPark, *s.Location)
}

func TestToggleBackWithoutLocationUsesCityCenter(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.c.ToggleMode(h.ctx)
	require.NoError(t, err)
	_, err = h.c.ToggleMode(h.ctx)
	require.NoError(t, err)
	cam, _ := h.m.lastCamera()
	assert.Equal(t, Camera{Center: geo.NYCCenter, Zoom: ZoomOverview, Tilt: 0}, cam)
}

func TestPickProximity(t *testing.T) {
	h := newHarness(t, []entry.Entry{mem("near", near50), mem("far", far500)})
	h.setLocation(t, bryantPark)

	// 俯视模式下拾取无效
	_, shown, err := h.c.Pick(h.ctx, h.r.model("near").nodes[0])
	require.NoError(t, err)
	assert.False(t, shown)

	_, err = h.c.ToggleMode(h.ctx)
	require.NoError(t, err)

	c, shown, err := h.c.Pick(h.ctx, h.r.model("near").nodes[1])
	require.NoError(t, err)
	require.True(t, shown)
	assert.True(t, c.CloseRange)
	assert.Equal(t, RevealLabel, c.RevealLabel)
	assert.Empty(t, c.Hint)
	assert.Equal(t, "near", c.EntryID)

	c, shown, err = h.c.Pick(h.ctx, h.r.model("far").nodes[0])
	require.NoError(t, err)
	require.True(t, shown)
	assert.False(t, c.CloseRange)
	assert.Empty(t, c.RevealLabel)
	assert.Equal(t, HintFar, c.Hint)

	_, shown, err = h.c.Pick(h.ctx, NodeID(9999))
	require.NoError(t, err)
	assert.False(t, shown)
}

func TestPickWithUnknownLocationIsFar(t *testing.T) {
	h := newHarness(t, []entry.Entry{mem("near", near50)})
	_, err := h.c.ToggleMode(h.ctx)
	require.NoError(t, err)
	c, shown, err := h.c.Pick(h.ctx, h.r.model("near").nodes[0])
	require.NoError(t, err)
	require.True(t, shown)
	assert.False(t, c.CloseRange)
}

func TestRevealCommitted(t *testing.T) {
	h := newHarness(t, []entry.Entry{mem("near", near50)})
	h.setLocation(t, bryantPark)
	_, err := h.c.ToggleMode(h.ctx)
	require.NoError(t, err)
	_, _, err = h.c.Pick(h.ctx, h.r.model("near").nodes[0])
	require.NoError(t, err)

	require.NoError(t, h.c.Reveal(h.ctx, "near"))
	assert.False(t, h.m.snap().popupOpen)
	assert.Equal(t, []growCall{{GrowDelta, GrowDuration}}, h.r.model("near").growCalls())

	got, err := h.mb.Get(h.ctx, "near")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.NumVisits)
	e, ok, err := h.c.Entry(h.ctx, "near")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, e.NumVisits)
}

func TestRevealGuards(t *testing.T) {
	h := newHarness(t, []entry.Entry{mem("near", near50), mem("far", far500)})
	h.setLocation(t, bryantPark)

	assert.ErrorIs(t, h.c.Reveal(h.ctx, "near"), ErrWrongMode)
	_, err := h.c.ToggleMode(h.ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, h.c.Reveal(h.ctx, "far"), ErrOutOfRange)
	assert.ErrorIs(t, h.c.Reveal(h.ctx, "ghost"), ErrUnknownEntry)
	assert.Empty(t, h.r.model("far").growCalls())
}

type abortingBackend struct{ *store.MemoryBackend }

func (abortingBackend) Increment(context.Context, string) (bool, error) { return false, nil }

func TestRevealNotCommittedHasNoVisibleEffect(t *testing.T) {
	mb := store.NewMemoryBackend()
	require.NoError(t, mb.Insert(context.Background(), mem("near", near50)))
	h := newHarness(t, nil, withBackend(abortingBackend{mb}))
	h.setLocation(t, bryantPark)
	_, err := h.c.ToggleMode(h.ctx)
	require.NoError(t, err)
	_, _, err = h.c.Pick(h.ctx, h.r.model("near").nodes[0])
	require.NoError(t, err)

	assert.ErrorIs(t, h.c.Reveal(h.ctx, "near"), ErrNotCommitted)
	assert.True(t, h.m.snap().popupOpen)
	assert.Empty(t, h.r.model("near").growCalls())
}

func TestLocateFailureKeepsControlsHidden(t *testing.T) {
	h := newHarness(t, nil)
	err := h.c.Locate(h.ctx, true)
	assert.ErrorIs(t, err, ErrLocationUnavailable)
	assert.ErrorIs(t, err, errDenied)
	ms := h.m.snap()
	assert.Zero(t, ms.controlsCalls)
	assert.Nil(t, ms.userLoc)
	assert.Nil(t, h.state(t).Location)
}

func TestLocateZoomClampsToPanBox(t *testing.T) {
	h := newHarness(t, nil)
	h.loc.mu.Lock()
	h.loc.p, h.loc.err = geo.Point{Lat: 42.0, Lng: -75.0}, nil
	h.loc.mu.Unlock()
	require.NoError(t, h.c.Locate(h.ctx, true))
	cam, _ := h.m.lastCamera()
	assert.Equal(t, geo.Point{Lat: 41.04, Lng: -74.37}, cam.Center)
}

func TestModelInitialScaleTracksVisits(t *testing.T) {
	e := mem("v", bryantPark)
	e.NumVisits = 4
	h := newHarness(t, []entry.Entry{e})
	assert.Equal(t, ModelBaseScale+4, h.r.model("v").scale)
}
