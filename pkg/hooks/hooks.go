// Package hooks lets extensions observe and steer compaction and tree
// navigation. Handlers run in registration order; a failing or panicking
// handler is reported to the error listeners and skipped.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tiancaiamao/sessioncompact/pkg/compact"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

// Event names, as reported to error listeners.
const (
	EventBeforeCompact = "session_before_compact"
	EventCompacting    = "session.compacting"
	EventCompact       = "session_compact"
	EventBeforeTree    = "session_before_tree"
	EventTree          = "session_tree"
)

// Action is what a before-hook decides.
type Action int

const (
	Continue Action = iota
	Cancel
)

// Decision is the control part of a before-hook result.
type Decision struct {
	Action Action
	Reason string
}

// Cancelled reports whether the decision stops the operation.
func (d Decision) Cancelled() bool { return d.Action == Cancel }

// BeforeCompactEvent is passed to session_before_compact handlers.
type BeforeCompactEvent struct {
	Preparation        *compact.Preparation
	Reason             string
	CustomInstructions string
}

// BeforeCompactResult may cancel the compaction or supply the result.
type BeforeCompactResult struct {
	Decision
	Compaction *compact.Result
}

// CompactingEvent is passed to session.compacting handlers just before the
// summary is generated.
type CompactingEvent struct {
	Preparation *compact.Preparation
	Reason      string
}

// CompactingResult adjusts the summary request.
type CompactingResult struct {
	Prompt       string
	Context      []string
	PreserveData json.RawMessage
}

// CompactEvent reports an appended compaction entry.
type CompactEvent struct {
	Entry    session.Entry
	Reason   string
	FromHook bool
}

// BeforeTreeEvent is passed to session_before_tree handlers.
type BeforeTreeEvent struct {
	TargetID           string
	OldLeafID          string
	CommonAncestorID   string
	Entries            []session.Entry
	Summarize          bool
	CustomInstructions string
}

// TreeSummary is a hook-supplied branch summary.
type TreeSummary struct {
	Summary string
	Details *session.FileDetails
}

// BeforeTreeResult may cancel navigation or supply the branch summary.
type BeforeTreeResult struct {
	Decision
	Summary *TreeSummary
}

// TreeEvent reports a completed navigation.
type TreeEvent struct {
	NewLeafID    string
	OldLeafID    string
	SummaryEntry *session.Entry
	FromHook     bool
}

type (
	BeforeCompactHook func(ctx context.Context, ev *BeforeCompactEvent) (BeforeCompactResult, error)
	CompactingHook    func(ctx context.Context, ev *CompactingEvent) (CompactingResult, error)
	CompactHook       func(ctx context.Context, ev *CompactEvent) error
	BeforeTreeHook    func(ctx context.Context, ev *BeforeTreeEvent) (BeforeTreeResult, error)
	TreeHook          func(ctx context.Context, ev *TreeEvent) error
	ErrorHook         func(event string, err error)
)

// Registry holds registered handlers. A nil *Registry has no handlers.
type Registry struct {
	mu            sync.RWMutex
	beforeCompact []BeforeCompactHook
	compacting    []CompactingHook
	compact       []CompactHook
	beforeTree    []BeforeTreeHook
	tree          []TreeHook
	onError       []ErrorHook
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) OnBeforeCompact(hook BeforeCompactHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeCompact = append(r.beforeCompact, hook)
}

func (r *Registry) OnCompacting(hook CompactingHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compacting = append(r.compacting, hook)
}

func (r *Registry) OnCompact(hook CompactHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compact = append(r.compact, hook)
}

func (r *Registry) OnBeforeTree(hook BeforeTreeHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeTree = append(r.beforeTree, hook)
}

func (r *Registry) OnTree(hook TreeHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree = append(r.tree, hook)
}

// OnError registers a listener for handler failures.
func (r *Registry) OnError(hook ErrorHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = append(r.onError, hook)
}

// TriggerBeforeCompact runs session_before_compact handlers. A Cancel
// returns at once; otherwise the first supplied compaction wins.
func (r *Registry) TriggerBeforeCompact(ctx context.Context, ev *BeforeCompactEvent) BeforeCompactResult {
	if r == nil {
		return BeforeCompactResult{}
	}
	r.mu.RLock()
	hooks := append([]BeforeCompactHook(nil), r.beforeCompact...)
	r.mu.RUnlock()

	var out BeforeCompactResult
	for _, hook := range hooks {
		res, err := safeCall(func() (BeforeCompactResult, error) { return hook(ctx, ev) })
		if err != nil {
			r.report(EventBeforeCompact, err)
			continue
		}
		if res.Cancelled() {
			return BeforeCompactResult{Decision: res.Decision}
		}
		if out.Compaction == nil && res.Compaction != nil {
			out.Compaction = res.Compaction
		}
	}
	return out
}

// TriggerCompacting runs session.compacting handlers. The first prompt and
// preserve data win; context lines accumulate in order.
func (r *Registry) TriggerCompacting(ctx context.Context, ev *CompactingEvent) CompactingResult {
	if r == nil {
		return CompactingResult{}
	}
	r.mu.RLock()
	hooks := append([]CompactingHook(nil), r.compacting...)
	r.mu.RUnlock()

	var out CompactingResult
	for _, hook := range hooks {
		res, err := safeCall(func() (CompactingResult, error) { return hook(ctx, ev) })
		if err != nil {
			r.report(EventCompacting, err)
			continue
		}
		if out.Prompt == "" {
			out.Prompt = res.Prompt
		}
		if out.PreserveData == nil {
			out.PreserveData = res.PreserveData
		}
		out.Context = append(out.Context, res.Context...)
	}
	return out
}

func (r *Registry) TriggerCompact(ctx context.Context, ev *CompactEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := append([]CompactHook(nil), r.compact...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if _, err := safeCall(func() (struct{}, error) { return struct{}{}, hook(ctx, ev) }); err != nil {
			r.report(EventCompact, err)
		}
	}
}

// TriggerBeforeTree runs session_before_tree handlers with the same
// precedence as TriggerBeforeCompact.
func (r *Registry) TriggerBeforeTree(ctx context.Context, ev *BeforeTreeEvent) BeforeTreeResult {
	if r == nil {
		return BeforeTreeResult{}
	}
	r.mu.RLock()
	hooks := append([]BeforeTreeHook(nil), r.beforeTree...)
	r.mu.RUnlock()

	var out BeforeTreeResult
	for _, hook := range hooks {
		res, err := safeCall(func() (BeforeTreeResult, error) { return hook(ctx, ev) })
		if err != nil {
			r.report(EventBeforeTree, err)
			continue
		}
		if res.Cancelled() {
			return BeforeTreeResult{Decision: res.Decision}
		}
		if out.Summary == nil && res.Summary != nil {
			out.Summary = res.Summary
		}
	}
	return out
}

func (r *Registry) TriggerTree(ctx context.Context, ev *TreeEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := append([]TreeHook(nil), r.tree...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if _, err := safeCall(func() (struct{}, error) { return struct{}{}, hook(ctx, ev) }); err != nil {
			r.report(EventTree, err)
		}
	}
}

func (r *Registry) report(event string, err error) {
	slog.Warn("[Hooks] Handler failed", "event", event, "error", err)
	r.mu.RLock()
	listeners := append([]ErrorHook(nil), r.onError...)
	r.mu.RUnlock()
	for _, listener := range listeners {
		func() {
			defer func() {
				if p := recover(); p != nil {
					slog.Error("[Hooks] Error listener panicked", "event", event, "panic", p)
				}
			}()
			listener(event, err)
		}()
	}
}

func safeCall[T any](fn func() (T, error)) (res T, err error) {
	defer func() {
		if p := recover(); p != nil {
			var zero T
			res, err = zero, fmt.Errorf("hook panicked: %v", p)
		}
	}()
	return fn()
}
