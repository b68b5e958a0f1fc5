package compact

import (
	"errors"
	"fmt"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

var (
	ErrNothingToCompact = errors.New("nothing to compact")
	ErrAlreadyCompacted = errors.New("already compacted")
)

// IsNonActionableCompactionError reports whether a compaction error means
// there is simply no current compaction work to perform.
func IsNonActionableCompactionError(err error) bool {
	return errors.Is(err, ErrNothingToCompact) || errors.Is(err, ErrAlreadyCompacted)
}

// Preparation is everything a compaction run needs, resolved from one
// snapshot of the active path.
type Preparation struct {
	FirstKeptEntryID    string
	FirstKeptEntryIndex int
	// LeafID is the leaf the preparation was computed against.
	LeafID              string
	MessagesToSummarize []agentctx.AgentMessage
	TurnPrefixMessages  []agentctx.AgentMessage
	IsSplitTurn         bool
	TokensBefore        int
	KeepRecentTokens    int
	PreviousSummary     string
	FileOps             *FileOperations
	Settings            Settings
}

// PrepareCompaction resolves the cut point for path and collects what must
// be summarized. The cut is searched among entries after the latest
// compaction; entries that compaction kept are summarized again together
// with the new history so nothing drops out of the view.
func PrepareCompaction(path []session.Entry, settings Settings) (*Preparation, error) {
	if len(path) == 0 {
		return nil, ErrNothingToCompact
	}
	if path[len(path)-1].Type == session.EntryTypeCompaction {
		return nil, ErrAlreadyCompacted
	}

	prevIndex := session.LatestCompaction(path)
	keptStart, err := session.KeptStart(path)
	if err != nil {
		return nil, err
	}
	boundaryStart := prevIndex + 1

	view, err := session.BuildSessionContext(path)
	if err != nil {
		return nil, err
	}
	tokensBefore := EstimateContextTokens(view.Messages).Tokens

	keepTokens := settings.KeepRecentTokens
	if ratio := UsageRatio(view.Messages); ratio != 1 {
		keepTokens = int(float64(keepTokens) / ratio)
	}

	if len(FindValidCutPoints(path, boundaryStart, len(path))) == 0 {
		return nil, ErrNothingToCompact
	}
	cut := FindCutPoint(path, boundaryStart, len(path), keepTokens)
	if cut.FirstKeptEntryIndex < keptStart {
		return nil, &session.ConsistencyError{EntryID: path[cut.FirstKeptEntryIndex].ID, Err: session.ErrBoundaryRegressed}
	}

	historyEnd := cut.FirstKeptEntryIndex
	if cut.IsSplitTurn {
		historyEnd = cut.TurnStartIndex
	}
	if historyEnd <= keptStart && !cut.IsSplitTurn {
		return nil, ErrNothingToCompact
	}

	prep := &Preparation{
		FirstKeptEntryID:    path[cut.FirstKeptEntryIndex].ID,
		FirstKeptEntryIndex: cut.FirstKeptEntryIndex,
		LeafID:              path[len(path)-1].ID,
		IsSplitTurn:         cut.IsSplitTurn,
		TokensBefore:        tokensBefore,
		KeepRecentTokens:    keepTokens,
		FileOps:             NewFileOperations(),
		Settings:            settings,
	}
	if prevIndex >= 0 {
		prev := path[prevIndex]
		prep.PreviousSummary = prev.Summary
		// Hook-authored details are not trusted as file history.
		if !prev.FromHook {
			prep.FileOps.AddDetails(prev.Details)
		}
	}

	prep.MessagesToSummarize = entryMessages(path, keptStart, historyEnd)
	if cut.IsSplitTurn {
		prep.TurnPrefixMessages = entryMessages(path, cut.TurnStartIndex, cut.FirstKeptEntryIndex)
	}
	if len(prep.MessagesToSummarize) == 0 && len(prep.TurnPrefixMessages) == 0 {
		return nil, ErrNothingToCompact
	}

	prep.FileOps.AddMessages(prep.MessagesToSummarize)
	prep.FileOps.AddMessages(prep.TurnPrefixMessages)
	return prep, nil
}

// CanCompact reports whether PrepareCompaction would find work on path.
func CanCompact(path []session.Entry, settings Settings) bool {
	_, err := PrepareCompaction(path, settings)
	return err == nil
}

// entryMessages collects messages for entries in [start, end), skipping
// compaction entries.
func entryMessages(path []session.Entry, start, end int) []agentctx.AgentMessage {
	messages := make([]agentctx.AgentMessage, 0, max(end-start, 0))
	for i := start; i < end; i++ {
		if path[i].Type == session.EntryTypeCompaction {
			continue
		}
		if msg, ok := path[i].AsMessage(); ok {
			messages = append(messages, msg)
		}
	}
	return messages
}

func (p *Preparation) String() string {
	return fmt.Sprintf("firstKept=%s summarize=%d prefix=%d split=%v tokensBefore=%d",
		p.FirstKeptEntryID, len(p.MessagesToSummarize), len(p.TurnPrefixMessages), p.IsSplitTurn, p.TokensBefore)
}
