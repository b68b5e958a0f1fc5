package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tiancaiamao/sessioncompact/pkg/compact"
	"github.com/tiancaiamao/sessioncompact/pkg/hooks"
	"github.com/tiancaiamao/sessioncompact/pkg/llm"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

// NavigationState is the phase of a tree navigation.
type NavigationState int

const (
	NavIdle NavigationState = iota
	NavCollecting
	NavSummarizing
	NavPersisted
	NavCancelled
)

func (s NavigationState) String() string {
	switch s {
	case NavIdle:
		return "idle"
	case NavCollecting:
		return "collecting"
	case NavSummarizing:
		return "summarizing"
	case NavPersisted:
		return "persisted"
	case NavCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("NavigationState(%d)", int(s))
}

// NavigateOptions control a tree navigation.
type NavigateOptions struct {
	// Summarize records a summary of the branch being left.
	Summarize          bool
	CustomInstructions string
}

// NavigateResult describes a completed navigation.
type NavigateResult struct {
	OldLeafID      string
	NewLeafID      string
	SummaryEntryID string
	Summary        string
	FromHook       bool
}

// NavigationState returns the phase of the latest navigation.
func (c *Controller) NavigationState() NavigationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navState
}

func (c *Controller) setNavState(s NavigationState) {
	c.mu.Lock()
	c.navState = s
	c.mu.Unlock()
}

// AbortBranchSummary cancels the in-flight navigation, if any.
func (c *Controller) AbortBranchSummary() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.branchCancel != nil {
		c.branchCancel()
	}
}

func (c *Controller) beginBranch(ctx context.Context) (context.Context, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.branchCancel != nil {
		c.branchCancel()
	}
	opCtx, cancel := context.WithCancel(ctx)
	c.branchGen++
	gen := c.branchGen
	c.branchCancel = cancel
	return opCtx, func() {
		cancel()
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.branchGen == gen {
			c.branchCancel = nil
		}
	}
}

// NavigateTree moves the session leaf to targetID. With Summarize set, the
// entries unique to the branch being left are summarized and the summary is
// attached as a child of the target, becoming the new leaf. A cancelled
// navigation leaves the log and the leaf as they were.
func (c *Controller) NavigateTree(ctx context.Context, targetID string, opts NavigateOptions) (*NavigateResult, error) {
	ctx, done := c.beginBranch(ctx)
	defer done()

	oldLeaf := c.sess.GetLeafID()
	res := &NavigateResult{OldLeafID: oldLeaf, NewLeafID: oldLeaf}
	if targetID == oldLeaf {
		return res, nil
	}

	c.setNavState(NavCollecting)
	entries, ancestor, err := c.sess.CollectBranchEntries(oldLeaf, targetID)
	if err != nil {
		c.setNavState(NavIdle)
		return nil, err
	}

	before := c.hooks.TriggerBeforeTree(ctx, &hooks.BeforeTreeEvent{
		TargetID:           targetID,
		OldLeafID:          oldLeaf,
		CommonAncestorID:   ancestor,
		Entries:            entries,
		Summarize:          opts.Summarize,
		CustomInstructions: opts.CustomInstructions,
	})
	if before.Cancelled() {
		c.setNavState(NavCancelled)
		return nil, fmt.Errorf("%w: %s", ErrCancelled, before.Reason)
	}
	if err := checkpoint(ctx); err != nil {
		c.setNavState(NavCancelled)
		return nil, err
	}

	var summary *compact.BranchSummaryResult
	wantSummary := opts.Summarize && len(entries) > 0
	if wantSummary {
		c.setNavState(NavSummarizing)
		c.emitEvent(NewBranchSummaryStartEvent(BranchInfo{TargetID: targetID, OldLeafID: oldLeaf}))
		summary, res.FromHook, err = c.summarizeBranch(ctx, entries, opts, before.Summary)
		if err != nil {
			aborted := errors.Is(err, ErrCancelled)
			info := BranchInfo{TargetID: targetID, OldLeafID: oldLeaf, Aborted: aborted}
			if aborted {
				c.setNavState(NavCancelled)
			} else {
				c.setNavState(NavIdle)
				info.ErrorMessage = err.Error()
			}
			c.emitEvent(NewBranchSummaryEndEvent(info))
			return nil, err
		}
	}

	if summary != nil {
		id, err := c.sess.AppendBranchSummary(ctx, session.BranchSummary{
			ParentID: targetID,
			FromID:   oldLeaf,
			Summary:  summary.Summary,
			Details:  summary.Details(),
			FromHook: res.FromHook,
		})
		if err != nil {
			c.setNavState(NavIdle)
			return nil, err
		}
		res.SummaryEntryID = id
		res.Summary = summary.Summary
		res.NewLeafID = id
	} else {
		if err := c.sess.SetLeaf(targetID); err != nil {
			c.setNavState(NavIdle)
			return nil, err
		}
		res.NewLeafID = targetID
	}
	c.setNavState(NavPersisted)

	if c.runner != nil {
		view, err := c.sess.BuildContext()
		if err != nil {
			return nil, err
		}
		c.runner.ReplaceMessages(view.Messages)
	}

	treeEv := &hooks.TreeEvent{NewLeafID: res.NewLeafID, OldLeafID: oldLeaf, FromHook: res.FromHook}
	if res.SummaryEntryID != "" {
		if entry, ok := c.sess.GetEntry(res.SummaryEntryID); ok {
			treeEv.SummaryEntry = entry
		}
	}
	c.hooks.TriggerTree(ctx, treeEv)
	if wantSummary {
		c.emitEvent(NewBranchSummaryEndEvent(BranchInfo{TargetID: targetID, OldLeafID: oldLeaf, SummaryEntryID: res.SummaryEntryID}))
	}
	slog.Info("[Tree] Navigated", "from", oldLeaf, "to", res.NewLeafID, "summary", res.SummaryEntryID != "")
	return res, nil
}

func (c *Controller) summarizeBranch(ctx context.Context, entries []session.Entry, opts NavigateOptions, override *hooks.TreeSummary) (*compact.BranchSummaryResult, bool, error) {
	if override != nil {
		res := &compact.BranchSummaryResult{Summary: override.Summary}
		if override.Details != nil {
			res.ReadFiles = override.Details.ReadFiles
			res.ModifiedFiles = override.Details.ModifiedFiles
		}
		return res, true, nil
	}

	budget := 0
	if c.cfg.ContextWindow > 0 {
		budget = c.cfg.ContextWindow - c.cfg.Branch.ReserveTokens
	}
	prep := compact.PrepareBranchEntries(entries, budget, c.cfg.Branch.ContinuityThreshold)

	var result *compact.BranchSummaryResult
	err := runWithCandidates(ctx, c.cfg.Retry, c.cfg.RetryPolicy, c.candidates, func(ctx context.Context, backend llm.Backend) error {
		var err error
		result, err = compact.GenerateBranchSummary(ctx, backend, prep, compact.BranchOptions{CustomInstructions: opts.CustomInstructions})
		return err
	})
	if cerr := checkpoint(ctx); cerr != nil {
		return nil, false, cerr
	}
	if err != nil {
		return nil, false, err
	}
	return result, false, nil
}
