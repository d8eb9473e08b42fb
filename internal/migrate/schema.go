package migrate

import (
	"context"
	"database/sql"

	"memory-map/internal/logger"
)

// 背景：首次运行自动创建记忆表、插入通知触发器
// 约束：全部语句幂等（IF NOT EXISTS / OR REPLACE）；通知通道名需与 store.AddedChannel 一致
var stmts = []string{
	`CREATE TABLE IF NOT EXISTS memories (
            seq BIGSERIAL,
            id TEXT PRIMARY KEY,
            lat DOUBLE PRECISION NOT NULL,
            lng DOUBLE PRECISION NOT NULL,
            location_text TEXT NOT NULL,
            time_text TEXT,
            memory_text TEXT NOT NULL,
            num_visits BIGINT NOT NULL DEFAULT 0 CHECK (num_visits >= 0),
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
	`CREATE INDEX IF NOT EXISTS idx_memories_seq ON memories(seq)`,
	`CREATE OR REPLACE FUNCTION memories_notify_added() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify('memories_added', NEW.id);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS memories_added_trg ON memories`,
	`CREATE TRIGGER memories_added_trg AFTER INSERT ON memories
        FOR EACH ROW EXECUTE FUNCTION memories_notify_added()`,
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
