package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"memory-map/internal/entry"
	"memory-map/internal/logger"
)

// AddedChannel：新增条目通知通道名，由 memories 表的插入触发器写入（payload 为条目 ID）
const AddedChannel = "memories_added"

// PostgresBackend：基于 PostgreSQL 的集合实现
// 约束：递增在事务内 SELECT ... FOR UPDATE 后写回，并发递增按行锁串行；新增推送依赖 LISTEN/NOTIFY
type PostgresBackend struct {
	db  *sql.DB
	dsn string
	l   *slog.Logger
}

// AttachPostgres：dsn 仅用于建立 LISTEN 连接，可为空（此时 Watch 不可用）
func AttachPostgres(db *sql.DB, dsn string) *PostgresBackend {
	return &PostgresBackend{db: db, dsn: dsn, l: logger.L()}
}

func (p *PostgresBackend) DB() *sql.DB { return p.db }

const selectCols = "SELECT id, lat, lng, location_text, COALESCE(time_text, ''), memory_text, num_visits FROM memories"

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (entry.Entry, error) {
	var e entry.Entry
	err := s.Scan(&e.ID, &e.Coords.Lat, &e.Coords.Lng, &e.LocationText, &e.TimeText, &e.MemoryText, &e.NumVisits)
	return e, err
}

func (p *PostgresBackend) List(ctx context.Context) ([]entry.Entry, error) {
	rows, err := p.db.QueryContext(ctx, selectCols+" ORDER BY seq ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	p.l.Debug("db_memories_list", "count", len(out))
	return out, nil
}

// Get：按 ID 读取，不存在返回 ErrNotFound
func (p *PostgresBackend) Get(ctx context.Context, id string) (entry.Entry, error) {
	e, err := scanEntry(p.db.QueryRowContext(ctx, selectCols+" WHERE id=$1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return entry.Entry{}, ErrNotFound
	}
	return e, err
}

func (p *PostgresBackend) Insert(ctx context.Context, e entry.Entry) error {
	var tt sql.NullString
	if e.TimeText != "" {
		tt = sql.NullString{String: e.TimeText, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO memories(id, lat, lng, location_text, time_text, memory_text, num_visits)
        VALUES($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.Coords.Lat, e.Coords.Lng, e.LocationText, tt, e.MemoryText, e.NumVisits,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("insert %s: %w", e.ID, ErrDuplicate)
	}
	if err != nil {
		return err
	}
	p.l.Debug("db_memory_insert", "id", e.ID)
	return nil
}

func (p *PostgresBackend) Increment(ctx context.Context, id string) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	var n int64
	if err := tx.QueryRowContext(ctx, "SELECT num_visits FROM memories WHERE id=$1 FOR UPDATE", id).Scan(&n); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE memories SET num_visits=$2 WHERE id=$1", id, n+1); err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	p.l.Debug("db_memory_visit", "id", id, "visits", n+1)
	return true, nil
}

func (p *PostgresBackend) Stats(ctx context.Context) (Totals, error) {
	var t Totals
	err := p.db.QueryRowContext(ctx, "SELECT COUNT(1), COALESCE(SUM(num_visits), 0) FROM memories").Scan(&t.Total, &t.Visits)
	return t, err
}

// 文档注释：订阅新增条目（LISTEN memories_added）
// 背景：收到通知后按 payload 中的 ID 回表读取完整条目；断线重连由 pq.Listener 负责，重连期间的通知可能丢失。
// 约束：ctx 结束时关闭监听并关闭返回通道。
func (p *PostgresBackend) Watch(ctx context.Context) (<-chan entry.Entry, error) {
	if p.dsn == "" {
		return nil, errors.New("watch: no dsn configured")
	}
	ln := pq.NewListener(p.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.l.Warn("db_listener_event", "event", int(ev), "err", err)
		}
	})
	if err := ln.Listen(AddedChannel); err != nil {
		_ = ln.Close()
		return nil, err
	}
	out := make(chan entry.Entry, 64)
	go func() {
		defer close(out)
		defer ln.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-ln.Notify:
				if n == nil {
					// 重连后 pq 会发送 nil
					p.l.Info("db_listener_reconnected")
					continue
				}
				e, err := p.Get(ctx, n.Extra)
				if err != nil {
					p.l.Error("db_listener_fetch_error", "id", n.Extra, "err", err)
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			case <-time.After(90 * time.Second):
				go func() { _ = ln.Ping() }()
			}
		}
	}()
	return out, nil
}
