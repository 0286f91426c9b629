package audit_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Kong/mcp-bridge/internal/audit"
)

func TestService_NilPoolIsANoOp(t *testing.T) {
	svc := audit.New(nil, zap.NewNop())

	if err := svc.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema on nil pool should succeed, got %v", err)
	}

	svc.Log(audit.Record{
		Timestamp:  time.Now(),
		ToolName:   "admin_api_get_status",
		RouteID:    "r1",
		Success:    true,
		StatusCode: 200,
	})

	recent, err := svc.Recent(context.Background(), "admin_api_get_status", 10)
	if err != nil {
		t.Fatalf("Recent on nil pool should succeed, got %v", err)
	}
	if recent != nil {
		t.Fatalf("expected nil result on nil pool, got %v", recent)
	}
}
