package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
	"github.com/tiancaiamao/sessioncompact/pkg/hooks"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

// forkedSession builds A-B-C-D and A-E-F with the leaf at D.
func forkedSession(t *testing.T) (*session.Session, map[string]string) {
	t.Helper()
	sess := session.New(nil)
	ids := make(map[string]string)
	for _, name := range []string{"A", "B", "C", "D"} {
		msg := userMsg(50)
		if name == "B" || name == "D" {
			msg = assistantMsg(50)
		}
		ids[name] = appendAll(t, sess, msg)[0]
	}
	require.NoError(t, sess.SetLeaf(ids["A"]))
	ids["E"] = appendAll(t, sess, assistantMsg(50))[0]
	ids["F"] = appendAll(t, sess, userMsg(50))[0]
	require.NoError(t, sess.SetLeaf(ids["D"]))
	return sess, ids
}

func snapshot(sess *session.Session, ids ...string) []session.Entry {
	out := make([]session.Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := sess.GetEntry(id); ok {
			out = append(out, *e)
		}
	}
	return out
}

func TestNavigateSummarizesAbandonedBranch(t *testing.T) {
	sess, ids := forkedSession(t)
	before := snapshot(sess, ids["B"], ids["C"], ids["D"])
	runner := &fakeRunner{}
	backend := &countingBackend{reply: "explored a refactor"}
	c, log := newTestController(sess, runner, backend)

	res, err := c.NavigateTree(context.Background(), ids["F"], NavigateOptions{Summarize: true})
	require.NoError(t, err)
	assert.Equal(t, ids["D"], res.OldLeafID)
	assert.Equal(t, res.SummaryEntryID, res.NewLeafID)
	assert.False(t, res.FromHook)
	assert.Equal(t, NavPersisted, c.NavigationState())

	entry, ok := sess.GetEntry(res.SummaryEntryID)
	require.True(t, ok)
	assert.Equal(t, session.EntryTypeBranchSummary, entry.Type)
	assert.Equal(t, ids["D"], entry.FromID)
	require.NotNil(t, entry.ParentID)
	assert.Equal(t, ids["F"], *entry.ParentID)
	assert.Contains(t, entry.Summary, "explored a refactor")
	assert.Equal(t, res.SummaryEntryID, sess.GetLeafID())

	// The abandoned branch is untouched.
	assert.Equal(t, before, snapshot(sess, ids["B"], ids["C"], ids["D"]))

	// Live state follows the new path: A, E, F, summary.
	msgs := runner.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, agentctx.RoleBranchSummary, msgs[3].Role)
	assert.Equal(t, ids["D"], msgs[3].FromID)

	require.Len(t, log.ofType(EventBranchSummaryStart), 1)
	end := log.ofType(EventBranchSummaryEnd)
	require.Len(t, end, 1)
	assert.Equal(t, res.SummaryEntryID, end[0].Branch.SummaryEntryID)
}

func TestNavigateWithoutSummary(t *testing.T) {
	sess, ids := forkedSession(t)
	count := len(sess.GetEntries())
	backend := &countingBackend{reply: "unused"}
	c, log := newTestController(sess, &fakeRunner{}, backend)

	res, err := c.NavigateTree(context.Background(), ids["F"], NavigateOptions{})
	require.NoError(t, err)
	assert.Equal(t, ids["F"], res.NewLeafID)
	assert.Empty(t, res.SummaryEntryID)
	assert.Equal(t, ids["F"], sess.GetLeafID())
	assert.Len(t, sess.GetEntries(), count)
	assert.Zero(t, backend.calls.Load())
	assert.Empty(t, log.ofType(EventBranchSummaryStart))
}

func TestNavigateToCurrentLeaf(t *testing.T) {
	sess, ids := forkedSession(t)
	backend := &countingBackend{reply: "unused"}
	c, _ := newTestController(sess, &fakeRunner{}, backend)

	res, err := c.NavigateTree(context.Background(), ids["D"], NavigateOptions{Summarize: true})
	require.NoError(t, err)
	assert.Equal(t, ids["D"], res.NewLeafID)
	assert.Zero(t, backend.calls.Load())
}

func TestNavigateToAncestorHasNothingToSummarize(t *testing.T) {
	sess, ids := forkedSession(t)
	require.NoError(t, sess.SetLeaf(ids["A"]))
	backend := &countingBackend{reply: "unused"}
	c, _ := newTestController(sess, &fakeRunner{}, backend)

	// From A to F nothing is abandoned.
	res, err := c.NavigateTree(context.Background(), ids["F"], NavigateOptions{Summarize: true})
	require.NoError(t, err)
	assert.Equal(t, ids["F"], res.NewLeafID)
	assert.Zero(t, backend.calls.Load())
}

func TestNavigateUnknownTarget(t *testing.T) {
	sess, _ := forkedSession(t)
	c, _ := newTestController(sess, &fakeRunner{}, &countingBackend{})

	_, err := c.NavigateTree(context.Background(), "missing", NavigateOptions{Summarize: true})
	require.Error(t, err)
}

func TestAbortBranchSummaryLeavesSessionUnchanged(t *testing.T) {
	sess, ids := forkedSession(t)
	count := len(sess.GetEntries())
	backend := newBlockingBackend("never")
	c, log := newTestController(sess, &fakeRunner{}, backend)

	done := make(chan error, 1)
	go func() {
		_, err := c.NavigateTree(context.Background(), ids["F"], NavigateOptions{Summarize: true})
		done <- err
	}()
	<-backend.started
	c.AbortBranchSummary()

	err := <-done
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, ids["D"], sess.GetLeafID())
	assert.Len(t, sess.GetEntries(), count)
	assert.Equal(t, NavCancelled, c.NavigationState())

	end := log.ofType(EventBranchSummaryEnd)
	require.Len(t, end, 1)
	assert.True(t, end[0].Branch.Aborted)
}

func TestBeforeTreeHookCancels(t *testing.T) {
	sess, ids := forkedSession(t)
	backend := &countingBackend{reply: "unused"}
	c, _ := newTestController(sess, &fakeRunner{}, backend)

	reg := hooks.NewRegistry()
	reg.OnBeforeTree(func(ctx context.Context, ev *hooks.BeforeTreeEvent) (hooks.BeforeTreeResult, error) {
		assert.Equal(t, ids["A"], ev.CommonAncestorID)
		assert.Len(t, ev.Entries, 3)
		return hooks.BeforeTreeResult{Decision: hooks.Decision{Action: hooks.Cancel}}, nil
	})
	c.SetHooks(reg)

	_, err := c.NavigateTree(context.Background(), ids["F"], NavigateOptions{Summarize: true})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, ids["D"], sess.GetLeafID())
	assert.Zero(t, backend.calls.Load())
	assert.Equal(t, NavCancelled, c.NavigationState())
}

func TestBeforeTreeHookProvidesSummary(t *testing.T) {
	sess, ids := forkedSession(t)
	backend := &countingBackend{reply: "unused"}
	c, _ := newTestController(sess, &fakeRunner{}, backend)

	var tree []*hooks.TreeEvent
	reg := hooks.NewRegistry()
	reg.OnBeforeTree(func(ctx context.Context, ev *hooks.BeforeTreeEvent) (hooks.BeforeTreeResult, error) {
		return hooks.BeforeTreeResult{Summary: &hooks.TreeSummary{
			Summary: "hook summary",
			Details: &session.FileDetails{ReadFiles: []string{"a.go"}},
		}}, nil
	})
	reg.OnTree(func(ctx context.Context, ev *hooks.TreeEvent) error {
		tree = append(tree, ev)
		return nil
	})
	c.SetHooks(reg)

	res, err := c.NavigateTree(context.Background(), ids["F"], NavigateOptions{Summarize: true})
	require.NoError(t, err)
	assert.True(t, res.FromHook)
	assert.Zero(t, backend.calls.Load())

	entry, ok := sess.GetEntry(res.SummaryEntryID)
	require.True(t, ok)
	assert.Equal(t, "hook summary", entry.Summary)
	assert.True(t, entry.FromHook)
	require.NotNil(t, entry.Details)
	assert.Equal(t, []string{"a.go"}, entry.Details.ReadFiles)

	require.Len(t, tree, 1)
	assert.True(t, tree[0].FromHook)
	require.NotNil(t, tree[0].SummaryEntry)
	assert.Equal(t, res.SummaryEntryID, tree[0].SummaryEntry.ID)
}

func TestNavigationStateString(t *testing.T) {
	assert.Equal(t, "summarizing", NavSummarizing.String())
	assert.Equal(t, "NavigationState(42)", NavigationState(42).String())
}
