package compact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
	"github.com/tiancaiamao/sessioncompact/pkg/llm"
)

// ErrEmptySummary is returned when a backend produced no text.
var ErrEmptySummary = errors.New("empty summary generated")

// SummarizeError wraps a failed summarization call with the step that ran it.
type SummarizeError struct {
	Op  string
	Err error
}

func (e *SummarizeError) Error() string {
	return fmt.Sprintf("summarize %s: %v", e.Op, e.Err)
}

func (e *SummarizeError) Unwrap() error { return e.Err }

// ShortCompleter is implemented by backends that return a one-line summary
// together with the main one.
type ShortCompleter interface {
	CompleteWithShort(ctx context.Context, req llm.Request) (summary, short string, err error)
}

// SummaryOptions shape a summary prompt.
type SummaryOptions struct {
	ReserveTokens      int
	PreviousSummary    string
	CustomInstructions string
	// PromptOverride replaces the default template.
	PromptOverride    string
	AdditionalContext []string
	// WantShort requests a one-line summary as well.
	WantShort bool
}

// Summary is a generated summary and its optional one-line form.
type Summary struct {
	Text  string
	Short string
}

// BuildSummaryPrompt assembles the user prompt for a summary request.
func BuildSummaryPrompt(conversation, template string, opts SummaryOptions) string {
	var b strings.Builder
	b.WriteString("<conversation>\n")
	b.WriteString(conversation)
	b.WriteString("\n</conversation>\n\n")
	if opts.PreviousSummary != "" {
		b.WriteString("<previous-summary>\n")
		b.WriteString(opts.PreviousSummary)
		b.WriteString("\n</previous-summary>\n\n")
	}
	if len(opts.AdditionalContext) > 0 {
		b.WriteString("<additional-context>\n")
		b.WriteString(strings.Join(opts.AdditionalContext, "\n\n"))
		b.WriteString("\n</additional-context>\n\n")
	}
	if opts.PromptOverride != "" {
		template = opts.PromptOverride
	}
	b.WriteString(template)
	if opts.CustomInstructions != "" {
		b.WriteString("\n\nAdditional focus: ")
		b.WriteString(opts.CustomInstructions)
	}
	return b.String()
}

// GenerateSummary summarizes messages, folding in the previous summary when
// there is one.
func GenerateSummary(ctx context.Context, backend llm.Backend, messages []agentctx.AgentMessage, opts SummaryOptions) (Summary, error) {
	template := SummarizationPrompt
	if opts.PreviousSummary != "" {
		template = UpdateSummarizationPrompt
	}
	req := llm.Request{
		SystemPrompt: SystemPrompt,
		Prompt:       BuildSummaryPrompt(SerializeConversation(messages), template, opts),
		MaxTokens:    int(0.8 * float64(opts.ReserveTokens)),
	}
	return complete(ctx, backend, "history", req, opts.WantShort)
}

// GenerateTurnPrefixSummary summarizes the early part of a split turn.
func GenerateTurnPrefixSummary(ctx context.Context, backend llm.Backend, messages []agentctx.AgentMessage, reserveTokens int) (string, error) {
	req := llm.Request{
		SystemPrompt: SystemPrompt,
		Prompt:       BuildSummaryPrompt(SerializeConversation(messages), TurnPrefixPrompt, SummaryOptions{}),
		MaxTokens:    int(0.5 * float64(reserveTokens)),
	}
	s, err := complete(ctx, backend, "turn_prefix", req, false)
	return s.Text, err
}

// GenerateShortSummary condenses a full summary to one line.
func GenerateShortSummary(ctx context.Context, backend llm.Backend, summary string) (string, error) {
	req := llm.Request{
		SystemPrompt: SystemPrompt,
		Prompt:       "<summary>\n" + summary + "\n</summary>\n\n" + ShortSummaryPrompt,
		MaxTokens:    256,
	}
	text, err := backend.Complete(ctx, req)
	if err != nil {
		return "", &SummarizeError{Op: "short_summary", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func complete(ctx context.Context, backend llm.Backend, op string, req llm.Request, wantShort bool) (Summary, error) {
	var out Summary
	sc, remote := backend.(ShortCompleter)
	if remote {
		text, short, err := sc.CompleteWithShort(ctx, req)
		if err != nil {
			return Summary{}, &SummarizeError{Op: op, Err: err}
		}
		out = Summary{Text: text, Short: short}
	} else {
		text, err := backend.Complete(ctx, req)
		if err != nil {
			return Summary{}, &SummarizeError{Op: op, Err: err}
		}
		out.Text = text
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	out.Text = strings.TrimSpace(out.Text)
	if out.Text == "" {
		return Summary{}, &SummarizeError{Op: op, Err: ErrEmptySummary}
	}

	// Backends with their own short summary are not asked twice.
	if wantShort && !remote {
		short, err := GenerateShortSummary(ctx, backend, out.Text)
		if err != nil {
			return Summary{}, err
		}
		out.Short = short
	}
	return out, nil
}
