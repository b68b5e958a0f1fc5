package compact

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tiancaiamao/sessioncompact/pkg/llm"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

// Options carry per-run inputs that do not come from the session.
type Options struct {
	CustomInstructions string
	// PromptOverride replaces the summary template, set by hooks.
	PromptOverride    string
	AdditionalContext []string
}

// Result is a generated compaction ready to be appended.
type Result struct {
	Summary          string
	ShortSummary     string
	FirstKeptEntryID string
	TokensBefore     int
	Details          *session.FileDetails
}

// Compaction converts r into the entry fields the session persists.
func (r *Result) Compaction() session.Compaction {
	return session.Compaction{
		Summary:          r.Summary,
		ShortSummary:     r.ShortSummary,
		FirstKeptEntryID: r.FirstKeptEntryID,
		TokensBefore:     r.TokensBefore,
		Details:          r.Details,
	}
}

// Compact summarizes a prepared compaction. A split turn summarizes the
// history and the turn prefix concurrently and merges the two.
func Compact(ctx context.Context, prep *Preparation, backend llm.Backend, opts Options) (*Result, error) {
	slog.Info("[Compaction] Summarizing",
		"messages", len(prep.MessagesToSummarize),
		"turnPrefix", len(prep.TurnPrefixMessages),
		"splitTurn", prep.IsSplitTurn,
		"tokensBefore", prep.TokensBefore)

	summaryOpts := SummaryOptions{
		ReserveTokens:      prep.Settings.ReserveTokens,
		PreviousSummary:    prep.PreviousSummary,
		CustomInstructions: opts.CustomInstructions,
		PromptOverride:     opts.PromptOverride,
		AdditionalContext:  opts.AdditionalContext,
		WantShort:          prep.Settings.ShortSummary,
	}

	var history Summary
	var prefix string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(prep.MessagesToSummarize) == 0 {
			history.Text = prep.PreviousSummary
			if history.Text == "" {
				history.Text = NoPriorHistory
			}
			return nil
		}
		var err error
		history, err = GenerateSummary(gctx, backend, prep.MessagesToSummarize, summaryOpts)
		return err
	})
	if prep.IsSplitTurn && len(prep.TurnPrefixMessages) > 0 {
		g.Go(func() error {
			var err error
			prefix, err = GenerateTurnPrefixSummary(gctx, backend, prep.TurnPrefixMessages, prep.Settings.ReserveTokens)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("[Compaction] Summarization failed", "error", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := history.Text
	if prefix != "" {
		summary += SplitTurnSeparator + prefix
	}
	readFiles, modifiedFiles := prep.FileOps.ComputeFileLists()
	summary += FormatFileOperations(readFiles, modifiedFiles)

	slog.Info("[Compaction] Summary generated", "chars", len(summary), "firstKept", prep.FirstKeptEntryID)
	return &Result{
		Summary:          summary,
		ShortSummary:     history.Short,
		FirstKeptEntryID: prep.FirstKeptEntryID,
		TokensBefore:     prep.TokensBefore,
		Details:          &session.FileDetails{ReadFiles: readFiles, ModifiedFiles: modifiedFiles},
	}, nil
}
