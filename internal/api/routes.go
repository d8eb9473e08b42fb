// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"memory-map/internal/entry"
	"memory-map/internal/geo"
	"memory-map/internal/logger"
	"memory-map/internal/metrics"
	"memory-map/internal/middleware"
	"memory-map/internal/store"
)

// VisitRange：允许计数的最大现场距离（米）
const VisitRange = 100.0

const (
	maxBody    = 1 << 16
	bloomBits  = 1 << 20
	bloomHashK = 4
	bloomTTL   = 26 * time.Hour
)

// Options：路由行为开关
type Options struct {
	Boundary     *geo.Boundary
	RequireTime  bool
	VisitDedupe  bool
	RealIPHeader string
	Logger       *slog.Logger
}

type visitRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type routes struct {
	b   store.Backend
	hub *Hub
	rc  *redis.Client
	o   Options
	l   *slog.Logger
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀
func BuildRoutes(b store.Backend, hub *Hub, rc *redis.Client, o Options) *http.ServeMux {
	if o.Logger == nil {
		o.Logger = logger.L()
	}
	if o.Boundary == nil {
		o.Boundary = geo.NYCBoundary()
	}
	rt := &routes{b: b, hub: hub, rc: rc, o: o, l: o.Logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /memories", observe("list", rt.list))
	mux.HandleFunc("POST /memories", observe("create", rt.create))
	mux.HandleFunc("POST /memories/{id}/visit", observe("visit", rt.visit))
	mux.HandleFunc("GET /bounds", observe("bounds", rt.bounds))
	mux.HandleFunc("GET /stats", observe("stats", rt.stats))
	if hub != nil {
		mux.HandleFunc("GET /memories/stream", hub.ServeWS)
	}
	return mux
}

func observe(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h(w, r)
		metrics.RequestsTotal.WithLabelValues(route).Inc()
		metrics.RequestDurationMs.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (rt *routes) list(w http.ResponseWriter, r *http.Request) {
	list, err := rt.b.List(r.Context())
	if err != nil {
		rt.l.Error("api_list_error", "err", err)
		writeErr(w, http.StatusBadGateway, "list failed")
		return
	}
	if list == nil {
		list = []entry.Entry{}
	}
	writeJSON(w, http.StatusOK, list)
}

// 文档注释：创建条目
// 约束：id 可由客户端预分配，缺省时服务端生成；访问次数强制为 0；坐标需落在参考区域内
func (rt *routes) create(w http.ResponseWriter, r *http.Request) {
	var e entry.Entry
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&e); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	e.NumVisits = 0
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := e.Validate(rt.o.RequireTime); err != nil {
		writeErr(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if !rt.o.Boundary.Contains(e.Coords) {
		writeErr(w, http.StatusUnprocessableEntity, "coordinates outside boundary")
		return
	}
	err := rt.b.Insert(r.Context(), e)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		writeErr(w, http.StatusConflict, "duplicate id")
		return
	case err != nil:
		rt.l.Error("api_create_error", "id", e.ID, "err", err)
		writeErr(w, http.StatusBadGateway, "insert failed")
		return
	}
	metrics.MemoriesCreatedTotal.Inc()
	rt.l.Info("api_create_ok", "id", e.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"id": e.ID})
}

// 文档注释：记录一次现场访问
// 背景：请求体可携带访问者坐标，携带时距离超过 VisitRange 拒绝；开启去重时同一访问者同一天对同一条目只计一次。
// 返回：{"committed": bool}；条目不存在时 committed 为 false
func (rt *routes) visit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	var req visitRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeErr(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if req.Lat != nil && req.Lng != nil {
		e, err := store.Lookup(ctx, rt.b, id)
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			rt.l.Error("api_visit_lookup_error", "id", id, "err", err)
			writeErr(w, http.StatusBadGateway, "lookup failed")
			return
		}
		if d := geo.Distance(geo.Point{Lat: *req.Lat, Lng: *req.Lng}, e.Coords); d > VisitRange {
			metrics.VisitsTotal.WithLabelValues("rejected").Inc()
			rt.l.Info("api_visit_too_far", "id", id, "meters", d)
			writeErr(w, http.StatusForbidden, "too far away")
			return
		}
	}
	if rt.o.VisitDedupe && !rt.firstVisit(ctx, r, id) {
		metrics.VisitsTotal.WithLabelValues("deduped").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"committed": false})
		return
	}
	ok, err := rt.b.Increment(ctx, id)
	if err != nil {
		rt.l.Error("api_visit_error", "id", id, "err", err)
		writeErr(w, http.StatusBadGateway, "increment failed")
		return
	}
	if ok {
		metrics.VisitsTotal.WithLabelValues("committed").Inc()
	} else {
		metrics.VisitsTotal.WithLabelValues("aborted").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"committed": ok})
}

// firstVisit：Redis 异常时放行
func (rt *routes) firstVisit(ctx context.Context, r *http.Request, id string) bool {
	ip := ""
	if p := middleware.ClientIP(r, rt.o.RealIPHeader); p != nil {
		ip = p.String()
	}
	key := "visit:bloom:" + time.Now().UTC().Format("20060102")
	first, err := bloomCheckAndSet(ctx, rt.rc, key, bloomPositions([]byte(ip+"|"+id), bloomBits, bloomHashK), bloomTTL)
	if err != nil {
		rt.l.Debug("api_visit_bloom_error", "err", err)
		return true
	}
	return first
}

func (rt *routes) bounds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.o.Boundary.GeoJSON())
}

func (rt *routes) stats(w http.ResponseWriter, r *http.Request) {
	t, err := store.StatsOf(r.Context(), rt.b)
	if err != nil {
		rt.l.Error("api_stats_error", "err", err)
		writeErr(w, http.StatusBadGateway, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, t)
}
