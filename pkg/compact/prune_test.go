package compact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

func toolTurns(tool string, n, tokens int) []agentctx.AgentMessage {
	msgs := make([]agentctx.AgentMessage, 0, 2*n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, toolCallMsg(tool, "f.go"), toolResultMsg(tool, tokens))
	}
	return msgs
}

func TestPlanPruneProtectsRecentOutput(t *testing.T) {
	msgs := append([]agentctx.AgentMessage{userMsg(10)}, toolTurns("bash", 8, 10000)...)
	path := linkPath(msgs...)

	plan, err := PlanPrune(path, DefaultPruneSettings())
	require.NoError(t, err)
	// The newest four outputs fill the 40000 protected tokens.
	require.Len(t, plan.Edits, 4)
	assert.Equal(t, 40000, plan.TokensSaved)
	assert.Equal(t, "e8", plan.Edits[0].EntryID)
	assert.Equal(t, "e2", plan.Edits[3].EntryID)
}

func TestPlanPruneBelowMinimumSavings(t *testing.T) {
	msgs := append([]agentctx.AgentMessage{userMsg(10)}, toolTurns("bash", 5, 10000)...)
	path := linkPath(msgs...)

	plan, err := PlanPrune(path, DefaultPruneSettings())
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.Zero(t, plan.TokensSaved)
}

func TestPlanPruneSkipsProtectedTools(t *testing.T) {
	msgs := []agentctx.AgentMessage{userMsg(10)}
	msgs = append(msgs, toolTurns("read", 4, 10000)...)
	msgs = append(msgs, toolTurns("bash", 4, 10000)...)
	path := linkPath(msgs...)

	settings := DefaultPruneSettings()
	settings.MinimumSavings = 1
	plan, err := PlanPrune(path, settings)
	require.NoError(t, err)
	assert.True(t, plan.Empty())

	settings.ProtectedTools = nil
	plan, err = PlanPrune(path, settings)
	require.NoError(t, err)
	assert.Len(t, plan.Edits, 4)
}

func TestPlanPruneDisabled(t *testing.T) {
	msgs := append([]agentctx.AgentMessage{userMsg(10)}, toolTurns("bash", 8, 10000)...)
	settings := DefaultPruneSettings()
	settings.Enabled = false
	plan, err := PlanPrune(linkPath(msgs...), settings)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestApplyPruneRewritesBeforeCutSearch(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	sess := session.New(store)
	msgs := append([]agentctx.AgentMessage{userMsg(10)}, toolTurns("bash", 8, 10000)...)
	appendAll(t, sess, msgs)
	before := EstimateContextTokens(sess.GetMessages()).Tokens

	plan, err := PlanPrune(sess.Branch(""), DefaultPruneSettings())
	require.NoError(t, err)
	result, err := sess.ApplyPrune(ctx, plan.Edits)
	require.NoError(t, err)
	assert.Equal(t, 4, result.EntriesPruned)
	assert.Equal(t, plan.TokensSaved, result.TokensSaved)
	// One rewrite for the first flush, one for the prune.
	assert.Equal(t, 2, store.Rewrites)

	after := EstimateContextTokens(sess.GetMessages()).Tokens
	assert.Less(t, after, before-35000)

	entry, ok := sess.GetEntry(plan.Edits[0].EntryID)
	require.True(t, ok)
	assert.Equal(t, session.PrunedPlaceholder(10000), entry.Message.ExtractText())

	// Already pruned outputs are not counted again.
	plan, err = PlanPrune(sess.Branch(""), DefaultPruneSettings())
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}
