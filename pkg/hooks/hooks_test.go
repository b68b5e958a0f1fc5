package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiancaiamao/sessioncompact/pkg/compact"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

func TestNilRegistryIsEmpty(t *testing.T) {
	var r *Registry
	ctx := context.Background()
	assert.False(t, r.TriggerBeforeCompact(ctx, &BeforeCompactEvent{}).Cancelled())
	assert.Empty(t, r.TriggerCompacting(ctx, &CompactingEvent{}).Prompt)
	assert.Nil(t, r.TriggerBeforeTree(ctx, &BeforeTreeEvent{}).Summary)
	r.TriggerCompact(ctx, &CompactEvent{})
	r.TriggerTree(ctx, &TreeEvent{})
}

func TestBeforeCompactCancelShortCircuits(t *testing.T) {
	r := NewRegistry()
	var calls []string
	r.OnBeforeCompact(func(ctx context.Context, ev *BeforeCompactEvent) (BeforeCompactResult, error) {
		calls = append(calls, "first")
		return BeforeCompactResult{Decision: Decision{Action: Cancel, Reason: "busy"}}, nil
	})
	r.OnBeforeCompact(func(ctx context.Context, ev *BeforeCompactEvent) (BeforeCompactResult, error) {
		calls = append(calls, "second")
		return BeforeCompactResult{}, nil
	})

	res := r.TriggerBeforeCompact(context.Background(), &BeforeCompactEvent{Reason: "manual"})
	assert.True(t, res.Cancelled())
	assert.Equal(t, "busy", res.Reason)
	assert.Equal(t, []string{"first"}, calls)
}

func TestBeforeCompactFirstOverrideWins(t *testing.T) {
	r := NewRegistry()
	r.OnBeforeCompact(func(ctx context.Context, ev *BeforeCompactEvent) (BeforeCompactResult, error) {
		return BeforeCompactResult{}, nil
	})
	r.OnBeforeCompact(func(ctx context.Context, ev *BeforeCompactEvent) (BeforeCompactResult, error) {
		return BeforeCompactResult{Compaction: &compact.Result{Summary: "one"}}, nil
	})
	r.OnBeforeCompact(func(ctx context.Context, ev *BeforeCompactEvent) (BeforeCompactResult, error) {
		return BeforeCompactResult{Compaction: &compact.Result{Summary: "two"}}, nil
	})

	res := r.TriggerBeforeCompact(context.Background(), &BeforeCompactEvent{})
	assert.False(t, res.Cancelled())
	require.NotNil(t, res.Compaction)
	assert.Equal(t, "one", res.Compaction.Summary)
}

func TestFailingHandlersAreIsolated(t *testing.T) {
	r := NewRegistry()
	type report struct {
		event string
		err   error
	}
	var reports []report
	r.OnError(func(event string, err error) {
		reports = append(reports, report{event, err})
	})
	r.OnError(func(event string, err error) {
		panic("listener broke")
	})

	r.OnCompacting(func(ctx context.Context, ev *CompactingEvent) (CompactingResult, error) {
		panic("handler broke")
	})
	r.OnCompacting(func(ctx context.Context, ev *CompactingEvent) (CompactingResult, error) {
		return CompactingResult{}, errors.New("bad handler")
	})
	r.OnCompacting(func(ctx context.Context, ev *CompactingEvent) (CompactingResult, error) {
		return CompactingResult{Prompt: "P1", Context: []string{"a"}, PreserveData: json.RawMessage(`{"k":1}`)}, nil
	})
	r.OnCompacting(func(ctx context.Context, ev *CompactingEvent) (CompactingResult, error) {
		return CompactingResult{Prompt: "P2", Context: []string{"b"}}, nil
	})

	res := r.TriggerCompacting(context.Background(), &CompactingEvent{})
	assert.Equal(t, "P1", res.Prompt)
	assert.Equal(t, []string{"a", "b"}, res.Context)
	assert.JSONEq(t, `{"k":1}`, string(res.PreserveData))

	require.Len(t, reports, 2)
	assert.Equal(t, EventCompacting, reports[0].event)
	assert.Contains(t, reports[0].err.Error(), "handler broke")
	assert.EqualError(t, reports[1].err, "bad handler")
}

func TestNotificationsReachEveryHandler(t *testing.T) {
	r := NewRegistry()
	var errs []string
	r.OnError(func(event string, err error) { errs = append(errs, event) })

	var got []string
	r.OnCompact(func(ctx context.Context, ev *CompactEvent) error {
		return errors.New("nope")
	})
	r.OnCompact(func(ctx context.Context, ev *CompactEvent) error {
		got = append(got, ev.Entry.ID)
		return nil
	})
	r.OnTree(func(ctx context.Context, ev *TreeEvent) error {
		got = append(got, ev.NewLeafID)
		return nil
	})

	r.TriggerCompact(context.Background(), &CompactEvent{Entry: session.Entry{ID: "c1"}})
	r.TriggerTree(context.Background(), &TreeEvent{NewLeafID: "leaf"})
	assert.Equal(t, []string{"c1", "leaf"}, got)
	assert.Equal(t, []string{EventCompact}, errs)
}

func TestBeforeTreeSummaryOverride(t *testing.T) {
	r := NewRegistry()
	r.OnBeforeTree(func(ctx context.Context, ev *BeforeTreeEvent) (BeforeTreeResult, error) {
		assert.Equal(t, "target", ev.TargetID)
		return BeforeTreeResult{Summary: &TreeSummary{Summary: "from hook"}}, nil
	})
	res := r.TriggerBeforeTree(context.Background(), &BeforeTreeEvent{TargetID: "target"})
	require.NotNil(t, res.Summary)
	assert.Equal(t, "from hook", res.Summary.Summary)

	r.OnBeforeTree(func(ctx context.Context, ev *BeforeTreeEvent) (BeforeTreeResult, error) {
		return BeforeTreeResult{Decision: Decision{Action: Cancel}}, nil
	})
	res = r.TriggerBeforeTree(context.Background(), &BeforeTreeEvent{TargetID: "target"})
	assert.True(t, res.Cancelled())
	assert.Nil(t, res.Summary)
}
