package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tiancaiamao/sessioncompact/pkg/compact"
	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
	"github.com/tiancaiamao/sessioncompact/pkg/hooks"
	"github.com/tiancaiamao/sessioncompact/pkg/llm"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

// Compaction reasons, carried on events and hooks.
const (
	ReasonManual    = "manual"
	ReasonOverflow  = "overflow"
	ReasonThreshold = "threshold"
)

// ContinuePrompt is injected after a threshold compaction when
// auto-continue is on.
const ContinuePrompt = "Continue if you have next steps."

var (
	ErrCancelled = errors.New("operation cancelled")
	// ErrSessionMoved means the leaf changed while a summary was generated.
	ErrSessionMoved = errors.New("session leaf moved during compaction")
)

// AutoCompactionError is an automatic compaction failure, phrased for the
// user according to what triggered it.
type AutoCompactionError struct {
	Reason string
	Err    error
}

func (e *AutoCompactionError) Error() string {
	if e.Reason == ReasonOverflow {
		return "Context overflow recovery failed: " + e.Err.Error()
	}
	return "Auto-compaction failed: " + e.Err.Error()
}

func (e *AutoCompactionError) Unwrap() error { return e.Err }

// Runner is the live agent whose in-memory turn state follows the session.
type Runner interface {
	Messages() []agentctx.AgentMessage
	ReplaceMessages(messages []agentctx.AgentMessage)
	// Continue resumes the agent loop without new user input.
	Continue(ctx context.Context) error
	// FollowUp queues a user message for the next turn.
	FollowUp(text string)
}

// Config is the controller's view of the compaction settings.
type Config struct {
	Compaction    compact.Settings
	AutoContinue  bool
	Prune         compact.PruneSettings
	Branch        compact.BranchSettings
	ContextWindow int
	Retry         *RetryConfig
	RetryPolicy   RetryPolicy
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		Compaction:   compact.DefaultSettings(),
		AutoContinue: true,
		Prune:        compact.DefaultPruneSettings(),
		Branch:       compact.DefaultBranchSettings(),
		Retry:        DefaultRetryConfig(),
	}
}

// CompactionResult describes a completed compaction.
type CompactionResult struct {
	EntryID          string
	Summary          string
	FirstKeptEntryID string
	TokensBefore     int
	TokensAfter      int
	FromHook         bool
	Pruned           session.PruneResult
}

// Controller decides when to compact a session and runs compaction and
// branch summarization against it. At most one compaction and one branch
// summary run at a time; starting a new one cancels the previous.
type Controller struct {
	sess       *session.Session
	runner     Runner
	cfg        Config
	candidates []ModelCandidate
	hooks      *hooks.Registry
	emit       func(AgentEvent)

	mu            sync.Mutex
	compactCancel context.CancelFunc
	compactGen    uint64
	branchCancel  context.CancelFunc
	branchGen     uint64
	navState      NavigationState
}

// NewController creates a controller. runner may be nil when there is no
// live agent, as in offline tools.
func NewController(sess *session.Session, runner Runner, cfg Config, candidates []ModelCandidate) *Controller {
	return &Controller{
		sess:       sess,
		runner:     runner,
		cfg:        cfg,
		candidates: candidates,
	}
}

// SetHooks sets the hook registry.
func (c *Controller) SetHooks(r *hooks.Registry) {
	c.hooks = r
}

// SetEventSink sets the event callback. It is called synchronously.
func (c *Controller) SetEventSink(fn func(AgentEvent)) {
	c.emit = fn
}

func (c *Controller) emitEvent(ev AgentEvent) {
	if c.emit != nil {
		c.emit(ev)
	}
}

// Compact runs a manual compaction. It cancels any in-flight compaction,
// automatic or manual, before starting.
func (c *Controller) Compact(ctx context.Context, customInstructions string) (*CompactionResult, error) {
	c.emitEvent(NewCompactionStartEvent(CompactionInfo{Reason: ReasonManual}))
	res, err := c.runCompaction(ctx, ReasonManual, customInstructions)
	c.emitEvent(NewCompactionEndEvent(endInfo(ReasonManual, false, false, res, err)))
	return res, err
}

// AbortCompaction cancels the in-flight compaction, if any.
func (c *Controller) AbortCompaction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compactCancel != nil {
		c.compactCancel()
	}
}

// HandleAssistantMessage is called after every assistant turn has been
// appended to the session. An overflow error triggers compaction followed by
// exactly one retry of the turn; a successful turn that leaves too little
// room triggers a threshold compaction.
func (c *Controller) HandleAssistantMessage(ctx context.Context, msg agentctx.AgentMessage) error {
	if !c.cfg.Compaction.Enabled {
		return nil
	}
	if msg.Role != agentctx.RoleAssistant {
		return nil
	}

	if msg.StopReason == agentctx.StopReasonError && llm.IsContextOverflowMessage(msg.ErrorMessage) {
		return c.recoverFromOverflow(ctx)
	}
	if msg.IsErrorTurn() {
		return nil
	}

	view, err := c.sess.BuildContext()
	if err != nil {
		return err
	}
	tokens := compact.EstimateContextTokens(view.Messages).Tokens
	if !compact.ShouldCompact(tokens, c.cfg.ContextWindow, c.cfg.Compaction) {
		return nil
	}
	slog.Info("[Compaction] Context over threshold",
		"tokens", tokens, "window", c.cfg.ContextWindow, "reserve", c.cfg.Compaction.ReserveTokens)

	res, err := c.runAuto(ctx, ReasonThreshold, false)
	if err != nil {
		return err
	}
	if res != nil && c.cfg.AutoContinue && c.runner != nil {
		c.runner.FollowUp(ContinuePrompt)
	}
	return nil
}

func (c *Controller) recoverFromOverflow(ctx context.Context) error {
	slog.Warn("[Compaction] Context overflow, compacting before retry")
	c.dropFailedTurn()

	res, err := c.runAuto(ctx, ReasonOverflow, true)
	if err != nil {
		return err
	}
	if res == nil || c.runner == nil {
		return nil
	}
	// The rebuilt view still carries the failed turn from the log.
	c.dropFailedTurn()
	return c.runner.Continue(ctx)
}

// dropFailedTurn removes a trailing error turn from the live state. The
// failed turn stays in the log.
func (c *Controller) dropFailedTurn() {
	if c.runner == nil {
		return
	}
	msgs := c.runner.Messages()
	if n := len(msgs); n > 0 && msgs[n-1].IsErrorTurn() {
		c.runner.ReplaceMessages(msgs[:n-1])
	}
}

// runAuto runs an automatic compaction and phrases its failure. A nil
// result with a nil error means the run was cancelled or had nothing to do.
func (c *Controller) runAuto(ctx context.Context, reason string, willRetry bool) (*CompactionResult, error) {
	c.emitEvent(NewCompactionStartEvent(CompactionInfo{Reason: reason, Auto: true, WillRetry: willRetry}))
	res, err := c.runCompaction(ctx, reason, "")
	c.emitEvent(NewCompactionEndEvent(endInfo(reason, true, willRetry, res, err)))

	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, ErrCancelled):
		slog.Info("[Compaction] Auto-compaction cancelled", "reason", reason)
		return nil, nil
	case reason == ReasonThreshold && compact.IsNonActionableCompactionError(err):
		slog.Info("[Compaction] Nothing to compact", "reason", reason, "error", err)
		return nil, nil
	}
	failure := &AutoCompactionError{Reason: reason, Err: err}
	slog.Error("[Compaction] "+failure.Error(), "reason", reason)
	return nil, failure
}

func endInfo(reason string, auto, willRetry bool, res *CompactionResult, err error) CompactionInfo {
	info := CompactionInfo{Reason: reason, Auto: auto, WillRetry: willRetry}
	if res != nil {
		info.Before = res.TokensBefore
		info.After = res.TokensAfter
		info.EntryID = res.EntryID
		info.FirstKeptEntryID = res.FirstKeptEntryID
		info.FromHook = res.FromHook
	}
	if err != nil {
		info.WillRetry = false
		if errors.Is(err, ErrCancelled) {
			info.Aborted = true
		} else {
			if auto {
				err = &AutoCompactionError{Reason: reason, Err: err}
			}
			info.ErrorMessage = err.Error()
			info.ErrorType = classifyLLMError(err)
		}
	}
	return info
}

// beginCompaction cancels any previous compaction and returns a context
// owned by the new one.
func (c *Controller) beginCompaction(ctx context.Context) (context.Context, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compactCancel != nil {
		c.compactCancel()
	}
	opCtx, cancel := context.WithCancel(ctx)
	c.compactGen++
	gen := c.compactGen
	c.compactCancel = cancel
	return opCtx, func() {
		cancel()
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.compactGen == gen {
			c.compactCancel = nil
		}
	}
}

func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

func (c *Controller) runCompaction(ctx context.Context, reason, customInstructions string) (*CompactionResult, error) {
	ctx, done := c.beginCompaction(ctx)
	defer done()

	var out CompactionResult
	plan, err := compact.PlanPrune(c.sess.Branch(""), c.cfg.Prune)
	if err != nil {
		return nil, err
	}
	if !plan.Empty() {
		out.Pruned, err = c.sess.ApplyPrune(ctx, plan.Edits)
		if err != nil {
			return nil, err
		}
		slog.Info("[Compaction] Pruned tool outputs", "entries", out.Pruned.EntriesPruned, "tokens", out.Pruned.TokensSaved)
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	prep, err := compact.PrepareCompaction(c.sess.Branch(""), c.cfg.Compaction)
	if err != nil {
		return nil, err
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	before := c.hooks.TriggerBeforeCompact(ctx, &hooks.BeforeCompactEvent{
		Preparation:        prep,
		Reason:             reason,
		CustomInstructions: customInstructions,
	})
	if before.Cancelled() {
		return nil, fmt.Errorf("%w: %s", ErrCancelled, before.Reason)
	}

	var result *compact.Result
	var compacting hooks.CompactingResult
	if before.Compaction != nil {
		result = before.Compaction
		out.FromHook = true
		if result.FirstKeptEntryID == "" {
			result.FirstKeptEntryID = prep.FirstKeptEntryID
		}
		if result.TokensBefore == 0 {
			result.TokensBefore = prep.TokensBefore
		}
	} else {
		compacting = c.hooks.TriggerCompacting(ctx, &hooks.CompactingEvent{Preparation: prep, Reason: reason})
		opts := compact.Options{
			CustomInstructions: customInstructions,
			PromptOverride:     compacting.Prompt,
			AdditionalContext:  compacting.Context,
		}
		err = runWithCandidates(ctx, c.cfg.Retry, c.cfg.RetryPolicy, c.candidates, func(ctx context.Context, backend llm.Backend) error {
			var err error
			result, err = compact.Compact(ctx, prep, backend, opts)
			return err
		})
		if err != nil {
			if cerr := checkpoint(ctx); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	if c.sess.GetLeafID() != prep.LeafID {
		return nil, ErrSessionMoved
	}

	entry := result.Compaction()
	entry.PreserveData = compacting.PreserveData
	entry.FromHook = out.FromHook
	entryID, err := c.sess.AppendCompaction(ctx, entry)
	if err != nil {
		return nil, err
	}

	view, err := c.sess.BuildContext()
	if err != nil {
		return nil, err
	}
	if c.runner != nil {
		c.runner.ReplaceMessages(view.Messages)
	}

	out.EntryID = entryID
	out.Summary = result.Summary
	out.FirstKeptEntryID = result.FirstKeptEntryID
	out.TokensBefore = result.TokensBefore
	out.TokensAfter = compact.EstimateContextTokens(view.Messages).Tokens

	if appended, ok := c.sess.GetEntry(entryID); ok {
		c.hooks.TriggerCompact(ctx, &hooks.CompactEvent{Entry: *appended, Reason: reason, FromHook: out.FromHook})
	}
	slog.Info("[Compaction] Compacted session",
		"reason", reason, "entry", entryID, "firstKept", out.FirstKeptEntryID,
		"tokensBefore", out.TokensBefore, "tokensAfter", out.TokensAfter)
	return &out, nil
}
