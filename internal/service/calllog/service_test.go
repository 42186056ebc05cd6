package calllog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/calllog"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/voice"
)

var _ voice.CallLogger = (*calllog.Service)(nil)

func TestServiceLifecycle(t *testing.T) {
	svc := calllog.NewService()
	ctx := context.Background()

	id, err := svc.Start(ctx, model.CallLogEntry{AgentID: "agent-1", AgentName: "Ada", Mode: model.ModeTurn, Status: model.CallFailed})
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}

	entry, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if entry.Status != model.CallStarted {
		t.Fatalf("new entries must start as started, got %s", entry.Status)
	}
	if entry.Mode != model.ModeTurn || entry.AgentName != "Ada" {
		t.Fatalf("unexpected entry %+v", entry)
	}

	update := model.CallLogUpdate{}.WithTranscript("hello", "hi").WithExchangeCount(1)
	if err := svc.Update(ctx, id, update); err != nil {
		t.Fatalf("Update err: %v", err)
	}
	if err := svc.Update(ctx, id, model.StatusUpdate(model.CallCompleted).WithExchangeCount(2)); err != nil {
		t.Fatalf("Update err: %v", err)
	}

	entry, _ = svc.Get(ctx, id)
	if entry.Status != model.CallCompleted || entry.ExchangeCount != 2 || entry.Transcription != "hello" || entry.Response != "hi" {
		t.Fatalf("unexpected entry after updates %+v", entry)
	}
	if entry.EndedAt == nil {
		t.Fatal("completed entries must carry an end time")
	}

	if err := svc.Update(ctx, id, model.StatusUpdate(model.CallFailed)); !errors.Is(err, calllog.ErrEntryClosed) {
		t.Fatalf("expected ErrEntryClosed, got %v", err)
	}
}

func TestServiceValidation(t *testing.T) {
	svc := calllog.NewService()
	ctx := context.Background()

	if _, err := svc.Start(ctx, model.CallLogEntry{}); !errors.Is(err, calllog.ErrAgentRequired) {
		t.Fatalf("expected ErrAgentRequired, got %v", err)
	}
	if err := svc.Update(ctx, "missing", model.StatusUpdate(model.CallCompleted)); !errors.Is(err, calllog.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, calllog.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestServiceListFiltersAndOrders(t *testing.T) {
	svc := calllog.NewService()
	ctx := context.Background()

	first, _ := svc.Start(ctx, model.CallLogEntry{AgentID: "a"})
	time.Sleep(2 * time.Millisecond)
	second, _ := svc.Start(ctx, model.CallLogEntry{AgentID: "a"})
	_, _ = svc.Start(ctx, model.CallLogEntry{AgentID: "b"})

	if all := svc.List(ctx, ""); len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}

	onlyA := svc.List(ctx, "a")
	if len(onlyA) != 2 {
		t.Fatalf("expected 2 entries for agent a, got %d", len(onlyA))
	}
	if onlyA[0].ID != second || onlyA[1].ID != first {
		t.Fatal("entries must be ordered newest first")
	}
}
