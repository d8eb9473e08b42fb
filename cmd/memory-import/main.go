// 导入工具：把导出的记忆集合（数组或 id → 记录映射）写入 PostgreSQL
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"memory-map/internal/entry"
	"memory-map/internal/geo"
	"memory-map/internal/logger"
	"memory-map/internal/migrate"
	"memory-map/internal/store"
	"memory-map/internal/utils"
)

func main() {
	envFile := flag.String("env", "", "env file with PG_* settings")
	requireTime := flag.Bool("require-time", false, "reject records without timeText")
	checkBounds := flag.Bool("check-bounds", true, "reject records outside the boundary")
	dryRun := flag.Bool("dry-run", false, "validate only")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: memory-import [--env file] [--require-time] [--check-bounds=false] [--dry-run] <export.json>")
		os.Exit(2)
	}
	if *envFile != "" {
		_ = godotenv.Load(*envFile)
	} else {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	}
	l := logger.Setup()

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		l.Error("import_open_error", "err", err)
		os.Exit(1)
	}
	list, err := entry.DecodeExport(f)
	f.Close()
	if err != nil {
		l.Error("import_decode_error", "err", err)
		os.Exit(1)
	}
	boundary := geo.NYCBoundary()
	if p := os.Getenv("BOUNDARY_PATH"); p != "" {
		if boundary, err = geo.LoadBoundary(p); err != nil {
			l.Error("boundary_load_error", "path", p, "err", err)
			os.Exit(1)
		}
	}

	valid := list[:0]
	invalid := 0
	for _, e := range list {
		err := e.Validate(*requireTime)
		if err == nil && *checkBounds && !boundary.Contains(e.Coords) {
			err = errors.New("outside boundary")
		}
		if err != nil {
			invalid++
			l.Warn("import_invalid", "id", e.ID, "err", err)
			continue
		}
		valid = append(valid, e)
	}
	l.Info("import_parsed", "total", len(list), "valid", len(valid), "invalid", invalid)
	if *dryRun {
		return
	}

	ctx := context.Background()
	db, dsn, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	pg := store.AttachPostgres(db, dsn)
	// 顺序写入以保留 seq 顺序
	imported, skipped := 0, 0
	for _, e := range valid {
		err := pg.Insert(ctx, e)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			skipped++
			l.Debug("import_skip_duplicate", "id", e.ID)
		case err != nil:
			l.Error("import_insert_error", "id", e.ID, "err", err)
			os.Exit(1)
		default:
			imported++
		}
	}
	fmt.Println("imported", imported, "skipped", skipped, "invalid", invalid)
}
