package compact

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
	"github.com/tiancaiamao/sessioncompact/pkg/llm"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

// recordingBackend answers every request with a fixed text per template.
type recordingBackend struct {
	mu       sync.Mutex
	requests []llm.Request
	err      error
}

func (b *recordingBackend) Complete(ctx context.Context, req llm.Request) (string, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	switch {
	case strings.Contains(req.Prompt, TurnPrefixPrompt):
		return "PREFIX", nil
	case strings.Contains(req.Prompt, ShortSummaryPrompt):
		return "short one", nil
	case strings.Contains(req.Prompt, BranchSummaryPrompt):
		return "BRANCH", nil
	}
	return "HISTORY", nil
}

func (b *recordingBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func testSettings(keep int) Settings {
	return Settings{Enabled: true, ReserveTokens: 10000, KeepRecentTokens: keep}
}

func appendAll(t *testing.T, sess *session.Session, msgs []agentctx.AgentMessage) []string {
	t.Helper()
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		id, err := sess.AppendMessage(context.Background(), msg)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func compactSession(t *testing.T, sess *session.Session, backend llm.Backend, settings Settings) (*Preparation, string) {
	t.Helper()
	ctx := context.Background()
	prep, err := PrepareCompaction(sess.Branch(""), settings)
	require.NoError(t, err)
	result, err := Compact(ctx, prep, backend, Options{})
	require.NoError(t, err)
	id, err := sess.AppendCompaction(ctx, result.Compaction())
	require.NoError(t, err)
	return prep, id
}

func TestCompactKeepsRecentEntries(t *testing.T) {
	sess := session.New(nil)
	ids := appendAll(t, sess, alternating(10, 1000))
	backend := &recordingBackend{}

	prep, compactionID := compactSession(t, sess, backend, testSettings(6000))
	assert.Equal(t, ids[4], prep.FirstKeptEntryID)
	assert.Len(t, prep.MessagesToSummarize, 4)
	assert.False(t, prep.IsSplitTurn)
	assert.Equal(t, 10000, prep.TokensBefore)
	assert.Equal(t, 1, backend.calls())

	path := sess.Branch("")
	require.Len(t, path, 11)
	assert.Equal(t, compactionID, path[10].ID)
	assert.Equal(t, session.EntryTypeCompaction, path[10].Type)
	assert.Equal(t, "HISTORY", path[10].Summary)
	assert.Equal(t, 10000, path[10].TokensBefore)

	sc, err := sess.BuildContext()
	require.NoError(t, err)
	require.Len(t, sc.Messages, 7)
	assert.Equal(t, agentctx.RoleCompactionSummary, sc.Messages[0].Role)
	for i, msg := range sc.Messages[1:] {
		assert.Equal(t, path[4+i].Message.Timestamp, msg.Timestamp)
		assert.Equal(t, path[4+i].Message.Role, msg.Role)
	}
}

func TestPrepareRejectsCompactionLeaf(t *testing.T) {
	sess := session.New(nil)
	appendAll(t, sess, alternating(10, 1000))
	compactSession(t, sess, &recordingBackend{}, testSettings(6000))

	_, err := PrepareCompaction(sess.Branch(""), testSettings(6000))
	assert.ErrorIs(t, err, ErrAlreadyCompacted)
	assert.True(t, IsNonActionableCompactionError(err))
	assert.False(t, CanCompact(sess.Branch(""), testSettings(6000)))
}

func TestRepeatedCompactionMovesBoundaryForward(t *testing.T) {
	sess := session.New(nil)
	appendAll(t, sess, alternating(10, 1000))
	backend := &recordingBackend{}
	first, _ := compactSession(t, sess, backend, testSettings(6000))

	more := appendAll(t, sess, alternating(6, 1000))
	second, _ := compactSession(t, sess, backend, testSettings(6000))

	path := sess.Branch("")
	indexOf := func(id string) int {
		for i := range path {
			if path[i].ID == id {
				return i
			}
		}
		return -1
	}
	assert.Greater(t, indexOf(second.FirstKeptEntryID), indexOf(first.FirstKeptEntryID))
	assert.Equal(t, more[0], second.FirstKeptEntryID)
	assert.Equal(t, "HISTORY", second.PreviousSummary)
	// The entries kept by the first compaction are summarized again.
	assert.Len(t, second.MessagesToSummarize, 6)

	last := backend.requests[len(backend.requests)-1]
	assert.Contains(t, last.Prompt, "<previous-summary>\nHISTORY\n</previous-summary>")
	assert.Contains(t, last.Prompt, UpdateSummarizationPrompt)

	sc, err := sess.BuildContext()
	require.NoError(t, err)
	assert.Len(t, sc.Messages, 7)
}

func TestCompactSplitTurnMergesSummaries(t *testing.T) {
	path := linkPath(
		userMsg(100),
		assistantMsg(1000),
		userMsg(1000),
		toolCallMsg("edit", "main.go"),
		toolResultMsg("edit", 1000),
		assistantMsg(1000),
		toolResultMsg("bash", 1000),
		assistantMsg(1000),
	)
	backend := &recordingBackend{}

	prep, err := PrepareCompaction(path, testSettings(2500))
	require.NoError(t, err)
	require.True(t, prep.IsSplitTurn)
	assert.Equal(t, "e5", prep.FirstKeptEntryID)
	assert.Len(t, prep.MessagesToSummarize, 2)
	assert.Len(t, prep.TurnPrefixMessages, 3)

	result, err := Compact(context.Background(), prep, backend, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls())
	assert.True(t, strings.HasPrefix(result.Summary,
		"HISTORY\n\n---\n\n**Turn Context (split turn):**\n\nPREFIX"))
	assert.Contains(t, result.Summary, "<modified-files>\nmain.go\n</modified-files>")
	assert.Equal(t, []string{"main.go"}, result.Details.ModifiedFiles)
}

func TestCompactSplitTurnWithoutHistory(t *testing.T) {
	path := linkPath(
		userMsg(1000),
		toolCallMsg("bash", "x"),
		toolResultMsg("bash", 2000),
		assistantMsg(1000),
	)
	backend := &recordingBackend{}

	prep, err := PrepareCompaction(path, testSettings(2500))
	require.NoError(t, err)
	require.True(t, prep.IsSplitTurn)
	assert.Empty(t, prep.MessagesToSummarize)

	result, err := Compact(context.Background(), prep, backend, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls())
	assert.Equal(t, "No prior history."+SplitTurnSeparator+"PREFIX", result.Summary)
}

func TestCompactSurfacesBackendError(t *testing.T) {
	path := linkPath(alternating(10, 1000)...)
	prep, err := PrepareCompaction(path, testSettings(6000))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = Compact(context.Background(), prep, &recordingBackend{err: boom}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var serr *SummarizeError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "history", serr.Op)
}

func TestCompactSplitTurnCancelsSibling(t *testing.T) {
	path := linkPath(
		userMsg(100),
		assistantMsg(1000),
		userMsg(1000),
		toolCallMsg("bash", "a"),
		toolResultMsg("bash", 1000),
		assistantMsg(1000),
		toolResultMsg("bash", 1000),
		assistantMsg(1000),
	)
	prep, err := PrepareCompaction(path, testSettings(2500))
	require.NoError(t, err)

	var cancelled atomic.Bool
	backend := llm.BackendFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, TurnPrefixPrompt) {
			return "", errors.New("prefix failed")
		}
		<-ctx.Done()
		cancelled.Store(true)
		return "", ctx.Err()
	})

	_, err = Compact(context.Background(), prep, backend, Options{})
	require.Error(t, err)
	assert.True(t, cancelled.Load())
}

func TestCompactPassesOptionsToPrompt(t *testing.T) {
	path := linkPath(alternating(10, 1000)...)
	prep, err := PrepareCompaction(path, testSettings(6000))
	require.NoError(t, err)
	backend := &recordingBackend{}

	_, err = Compact(context.Background(), prep, backend, Options{
		CustomInstructions: "focus on tests",
		PromptOverride:     "CUSTOM TEMPLATE",
		AdditionalContext:  []string{"line one", "line two"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, backend.calls())
	req := backend.requests[0]
	assert.Equal(t, SystemPrompt, req.SystemPrompt)
	assert.Equal(t, 8000, req.MaxTokens)
	assert.Contains(t, req.Prompt, "<additional-context>\nline one\n\nline two\n</additional-context>\n\nCUSTOM TEMPLATE\n\nAdditional focus: focus on tests")
	assert.NotContains(t, req.Prompt, SummarizationPrompt)
}

func TestCompactShortSummary(t *testing.T) {
	path := linkPath(alternating(10, 1000)...)
	settings := testSettings(6000)
	settings.ShortSummary = true
	prep, err := PrepareCompaction(path, settings)
	require.NoError(t, err)
	backend := &recordingBackend{}

	result, err := Compact(context.Background(), prep, backend, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls())
	assert.Equal(t, "short one", result.ShortSummary)
}

func TestPrepareIgnoresHookAuthoredFileDetails(t *testing.T) {
	ctx := context.Background()
	for _, fromHook := range []bool{false, true} {
		sess := session.New(nil)
		ids := appendAll(t, sess, alternating(4, 1000))
		_, err := sess.AppendCompaction(ctx, session.Compaction{
			Summary:          "earlier",
			FirstKeptEntryID: ids[2],
			Details:          &session.FileDetails{ReadFiles: []string{"old.go"}},
			FromHook:         fromHook,
		})
		require.NoError(t, err)
		appendAll(t, sess, alternating(10, 1000))

		prep, err := PrepareCompaction(sess.Branch(""), testSettings(6000))
		require.NoError(t, err)
		readFiles, _ := prep.FileOps.ComputeFileLists()
		if fromHook {
			assert.Empty(t, readFiles)
		} else {
			assert.Equal(t, []string{"old.go"}, readFiles)
		}
	}
}
