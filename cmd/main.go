// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"memory-map/internal/api"
	"memory-map/internal/geo"
	"memory-map/internal/logger"
	"memory-map/internal/metrics"
	"memory-map/internal/middleware"
	"memory-map/internal/migrate"
	"memory-map/internal/store"
	"memory-map/internal/utils"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	apiBase = "/" + strings.Trim(apiBase, "/")
	l.Debug("config_api_base", "base", apiBase)
	ui := os.Getenv("UI_DIST")
	if ui == "" {
		ui = filepath.Join("ui", "dist")
	}
	l.Debug("config_ui_dir", "dir", ui)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, l)
	if err != nil {
		l.Error("backend_open_error", "err", err)
		os.Exit(1)
	}
	defer closeBackend()

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
		defer rc.Close()
	}
	ttl := time.Duration(utils.EnvInt("MEMORIES_CACHE_TTL_S", 60)) * time.Second
	cached := store.NewCached(backend, rc, ttl)

	boundary := geo.NYCBoundary()
	if p := os.Getenv("BOUNDARY_PATH"); p != "" {
		b, err := geo.LoadBoundary(p)
		if err != nil {
			l.Error("boundary_load_error", "path", p, "err", err)
			os.Exit(1)
		}
		boundary = b
		l.Info("boundary_loaded", "path", p, "polys", len(b.Polys))
	}

	additions, err := cached.Watch(ctx)
	if err != nil {
		l.Error("watch_error", "err", err)
		os.Exit(1)
	}
	hub := api.NewHub(l)

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(cached, hub, rc, api.Options{
		Boundary:     boundary,
		RequireTime:  os.Getenv("REQUIRE_TIME_TEXT") == "true",
		VisitDedupe:  os.Getenv("VISIT_DEDUPE_ENABLED") == "true",
		RealIPHeader: os.Getenv("WRITE_REAL_IP_HEADER"),
		Logger:       l,
	})
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())
	mux.Handle("/", http.FileServer(http.Dir(ui)))
	// NOTE: 向前端暴露 API 基础路径，避免硬编码
	mux.HandleFunc("/config.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/javascript; charset=utf-8")
		w.Header().Set("cache-control", "no-store")
		_, _ = w.Write([]byte("window.__API_BASE__='" + apiBase + "'\n"))
		_, _ = w.Write([]byte("window.__REQUIRE_TIME__=" + boolJS(os.Getenv("REQUIRE_TIME_TEXT") == "true") + "\n"))
	})

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx, additions)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		l.Info("server_shutdown")
		return s.Shutdown(sctx)
	})
	g.Go(func() error {
		err := serve(l, s, addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
	l.Info("server_stopped")
}

// openBackend：按 STORE_BACKEND 选择存储；postgres 时先确保表结构与通知触发器
func openBackend(ctx context.Context, l *slog.Logger) (store.Backend, func(), error) {
	switch kind := os.Getenv("STORE_BACKEND"); kind {
	case "memory":
		l.Info("store_backend", "kind", "memory")
		return store.NewMemoryBackend(), func() {}, nil
	case "", "postgres":
		db, dsn, err := utils.OpenPostgresFromEnv()
		if err != nil {
			return nil, nil, err
		}
		l.Info("db_open_ok")
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		l.Info("store_backend", "kind", "postgres")
		return store.AttachPostgres(db, dsn), func() { _ = db.Close() }, nil
	default:
		return nil, nil, errors.New("unknown STORE_BACKEND " + kind)
	}
}

// serve：TLS_ENABLE=true 时使用（必要时自签发的）证书，可选 HTTP→HTTPS 跳转
func serve(l *slog.Logger, s *http.Server, addr string) error {
	if os.Getenv("TLS_ENABLE") != "true" {
		l.Info("listening", "addr", addr)
		return s.ListenAndServe()
	}
	certPath := os.Getenv("TLS_CERT_PATH")
	keyPath := os.Getenv("TLS_KEY_PATH")
	if certPath == "" {
		certPath = filepath.Join("data", "certs", "server.crt")
	}
	if keyPath == "" {
		keyPath = filepath.Join("data", "certs", "server.key")
	}
	if err := utils.EnsureSelfSignedCert(certPath, keyPath, "memory-map.local"); err != nil {
		return err
	}
	if os.Getenv("TLS_REDIRECT_ENABLE") == "true" {
		redirAddr := os.Getenv("TLS_REDIRECT_ADDR")
		if redirAddr == "" {
			redirAddr = ":80"
		}
		go func() {
			httpsPort := strings.TrimPrefix(addr, ":")
			redir := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				host := r.Host
				if i := strings.LastIndex(host, ":"); i != -1 {
					host = host[:i]
				}
				if httpsPort != "" {
					host += ":" + httpsPort
				}
				http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusMovedPermanently)
			})
			l.Info("http_redirect_listening", "addr", redirAddr, "to", "https"+addr)
			if err := http.ListenAndServe(redirAddr, logger.AccessMiddleware(l)(redir)); err != nil {
				l.Error("http_redirect_error", "err", err)
			}
		}()
	}
	l.Info("listening_tls", "addr", addr, "cert", certPath)
	return s.ListenAndServeTLS(certPath, keyPath)
}

func boolJS(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
