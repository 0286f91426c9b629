// Package audit persists a best-effort record of every tools/call invocation,
// grounded on the teacher's trustledger.PostgresLedger (raw pgx SQL against a
// single append-only table) and mcpjungle's audit service (fire-and-forget
// writes that never block or fail the primary operation).
package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Record is one tools/call invocation, persisted for compliance and
// troubleshooting (spec §3 AuditRecord).
type Record struct {
	Timestamp  time.Time
	ToolName   string
	RouteID    string
	Subject    string
	Success    bool
	StatusCode int
	ErrorMsg   string
}

// Service logs invocation records without blocking the caller. A nil pool
// (no server.database_url configured) makes every call a no-op, so the
// bridge functions identically with or without Postgres.
type Service struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Service. pool may be nil to disable persistence.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// EnsureSchema creates the tool_invocations table if it does not already
// exist. Safe to call on every startup.
func (s *Service) EnsureSchema(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tool_invocations (
			id          BIGSERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			tool_name   TEXT NOT NULL,
			route_id    TEXT NOT NULL,
			subject     TEXT NOT NULL DEFAULT '',
			success     BOOLEAN NOT NULL,
			status_code INT NOT NULL,
			error_msg   TEXT NOT NULL DEFAULT ''
		)`)
	return err
}

// Log records one invocation asynchronously. Failures are logged, never
// returned — a missing or unreachable audit database must not fail a tool
// call.
func (s *Service) Log(rec Record) {
	if s.pool == nil {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Warn("audit: panic recovered while logging invocation", zap.Any("recover", r))
			}
		}()

		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := s.pool.Exec(writeCtx, `
			INSERT INTO tool_invocations (occurred_at, tool_name, route_id, subject, success, status_code, error_msg)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.Timestamp, rec.ToolName, rec.RouteID, rec.Subject, rec.Success, rec.StatusCode, rec.ErrorMsg,
		)
		if err != nil {
			s.logger.Warn("audit: failed to persist invocation record",
				zap.String("tool", rec.ToolName), zap.Error(err))
		}
	}()
}

// Recent returns the most recent invocation records for the given tool, most
// recent first. No HTTP endpoint serves it, and the MCP protocol surface
// never calls it.
func (s *Service) Recent(ctx context.Context, toolName string, limit int) ([]Record, error) {
	if s.pool == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT occurred_at, tool_name, route_id, subject, success, status_code, error_msg
		FROM tool_invocations
		WHERE tool_name = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, toolName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Timestamp, &r.ToolName, &r.RouteID, &r.Subject, &r.Success, &r.StatusCode, &r.ErrorMsg); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
