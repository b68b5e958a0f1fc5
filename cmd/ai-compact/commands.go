package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/tiancaiamao/sessioncompact/pkg/agent"
	"github.com/tiancaiamao/sessioncompact/pkg/compact"
	"github.com/tiancaiamao/sessioncompact/pkg/config"
	agentctx "github.com/tiancaiamao/sessioncompact/pkg/context"
	"github.com/tiancaiamao/sessioncompact/pkg/logger"
	"github.com/tiancaiamao/sessioncompact/pkg/session"
)

type globalOptions struct {
	sessionPath string
	configPath  string
	debug       bool
}

func (o *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.sessionPath, "session", "s", "", "session file (.jsonl, .db, .sqlite)")
	fs.StringVarP(&o.configPath, "config", "c", "", "config file (default ~/.ai/compact.json)")
	fs.BoolVar(&o.debug, "debug", false, "enable debug logging")
}

type command struct {
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, env *environment, fs *pflag.FlagSet, out io.Writer) error
}

var commands = map[string]command{
	"context": {
		flags: func(fs *pflag.FlagSet) {
			fs.Bool("json", false, "print messages as JSON")
		},
		run: runContext,
	},
	"compact": {
		flags: func(fs *pflag.FlagSet) {
			fs.StringP("instructions", "i", "", "additional focus for the summary")
		},
		run: runCompact,
	},
	"prune": {
		flags: func(fs *pflag.FlagSet) {
			fs.Bool("apply", false, "rewrite the session instead of reporting")
		},
		run: runPrune,
	},
	"tree": {run: runTree},
	"navigate": {
		flags: func(fs *pflag.FlagSet) {
			fs.Bool("summarize", false, "summarize the abandoned branch (default from branchSummary.enabled)")
			fs.StringP("instructions", "i", "", "additional focus for the branch summary")
		},
		run: runNavigate,
	},
}

// environment is what every command runs against.
type environment struct {
	cfg           *config.Config
	sess          *session.Session
	log           *logger.Logger
	contextWindow int
}

func setup(ctx context.Context, opts *globalOptions) (*environment, error) {
	configPath := opts.configPath
	if configPath == "" {
		var err error
		if configPath, err = config.GetDefaultConfigPath(); err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if opts.debug {
		logCfg := config.LogConfig{}
		if cfg.Log != nil {
			logCfg = *cfg.Log
		}
		logCfg.Level = "debug"
		cfg.Log = &logCfg
	}
	log, err := cfg.Log.CreateLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(log.Logger)

	var specs []config.ModelSpec
	if modelsPath, err := cfg.ResolveModelsPath(); err == nil {
		specs, err = config.LoadModelSpecs(modelsPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to load models", "path", modelsPath, "error", err)
		}
	}

	sess, err := session.OpenPath(ctx, opts.sessionPath)
	if err != nil {
		log.Close()
		return nil, err
	}
	slog.Debug("Opened session", "path", opts.sessionPath, "entries", len(sess.GetEntries()))

	return &environment{
		cfg:           cfg,
		sess:          sess,
		log:           log,
		contextWindow: cfg.ResolveContextWindow(specs),
	}, nil
}

func (e *environment) close() {
	if err := e.sess.Close(); err != nil {
		slog.Warn("Failed to close session", "error", err)
	}
	e.log.Close()
}

func (e *environment) controller(candidates []agent.ModelCandidate) *agent.Controller {
	c := agent.NewController(e.sess, nil, e.cfg.ControllerConfig(e.contextWindow), candidates)
	c.SetEventSink(func(ev agent.AgentEvent) {
		slog.Debug("[Event] "+ev.Type, "compaction", ev.Compaction, "branch", ev.Branch)
	})
	return c
}

func runContext(ctx context.Context, env *environment, fs *pflag.FlagSet, out io.Writer) error {
	view, err := env.sess.BuildContext()
	if err != nil {
		return err
	}
	if asJSON, _ := fs.GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view.Messages)
	}

	for _, msg := range view.Messages {
		fmt.Fprintf(out, "[%s] %s\n", msg.Role, preview(messageText(msg), 120))
	}
	est := compact.EstimateContextTokens(view.Messages)
	fmt.Fprintf(out, "\n%d messages, ~%d tokens of %d", len(view.Messages), est.Tokens, env.contextWindow)
	if compact.CanCompact(env.sess.Branch(""), env.cfg.CompactSettings()) {
		fmt.Fprint(out, " (compactable)")
	}
	fmt.Fprintln(out)
	return nil
}

func runCompact(ctx context.Context, env *environment, fs *pflag.FlagSet, out io.Writer) error {
	candidates, err := env.cfg.BuildCandidates(nil)
	if err != nil {
		return err
	}
	instructions, _ := fs.GetString("instructions")
	res, err := env.controller(candidates).Compact(ctx, instructions)
	if err != nil {
		return err
	}
	if res.Pruned.EntriesPruned > 0 {
		fmt.Fprintf(out, "pruned %d tool outputs (~%d tokens)\n", res.Pruned.EntriesPruned, res.Pruned.TokensSaved)
	}
	fmt.Fprintf(out, "compaction %s: ~%d -> ~%d tokens, first kept %s\n\n%s\n",
		res.EntryID, res.TokensBefore, res.TokensAfter, res.FirstKeptEntryID, res.Summary)
	return nil
}

func runPrune(ctx context.Context, env *environment, fs *pflag.FlagSet, out io.Writer) error {
	settings := env.cfg.PruneSettings()
	settings.Enabled = true
	plan, err := compact.PlanPrune(env.sess.Branch(""), settings)
	if err != nil {
		return err
	}
	if plan.Empty() {
		fmt.Fprintln(out, "nothing to prune")
		return nil
	}
	for _, edit := range plan.Edits {
		fmt.Fprintf(out, "%s  ~%d tokens\n", edit.EntryID, edit.Tokens)
	}
	if apply, _ := fs.GetBool("apply"); !apply {
		fmt.Fprintf(out, "would save ~%d tokens (use --apply)\n", plan.TokensSaved)
		return nil
	}
	res, err := env.sess.ApplyPrune(ctx, plan.Edits)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pruned %d tool outputs, saved ~%d tokens\n", res.EntriesPruned, res.TokensSaved)
	return nil
}

func runTree(ctx context.Context, env *environment, fs *pflag.FlagSet, out io.Writer) error {
	leaf := env.sess.GetLeafID()
	var walk func(nodes []*session.TreeNode, depth int)
	walk = func(nodes []*session.TreeNode, depth int) {
		for _, node := range nodes {
			if node.Entry.Type == session.EntryTypeLabel {
				continue
			}
			marker := " "
			if node.Entry.ID == leaf {
				marker = "*"
			}
			line := fmt.Sprintf("%s%s %s %s", strings.Repeat("  ", depth), marker, node.Entry.ID, entrySummary(node.Entry))
			if node.Label != "" {
				line += " [" + node.Label + "]"
			}
			fmt.Fprintln(out, line)
			walk(node.Children, depth+1)
		}
	}
	walk(env.sess.Tree(), 0)
	return nil
}

func runNavigate(ctx context.Context, env *environment, fs *pflag.FlagSet, out io.Writer) error {
	if fs.NArg() != 1 {
		return fmt.Errorf("navigate: expected one target entry id")
	}
	summarize := env.cfg.BranchSummary.Enabled
	if fs.Changed("summarize") {
		summarize, _ = fs.GetBool("summarize")
	}
	instructions, _ := fs.GetString("instructions")

	var candidates []agent.ModelCandidate
	if summarize {
		var err error
		if candidates, err = env.cfg.BuildCandidates(nil); err != nil {
			return err
		}
	}

	res, err := env.controller(candidates).NavigateTree(ctx, fs.Arg(0), agent.NavigateOptions{Summarize: summarize, CustomInstructions: instructions})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "leaf %s -> %s\n", res.OldLeafID, res.NewLeafID)
	if res.SummaryEntryID != "" {
		fmt.Fprintf(out, "\n%s\n", res.Summary)
	}
	return nil
}

func entrySummary(e session.Entry) string {
	switch e.Type {
	case session.EntryTypeMessage, session.EntryTypeCustomMessage:
		if e.Message == nil {
			return e.Type
		}
		return e.Message.Role + ": " + preview(messageText(*e.Message), 60)
	case session.EntryTypeCompaction:
		return fmt.Sprintf("compaction (kept from %s): %s", e.FirstKeptEntryID, preview(e.Summary, 50))
	case session.EntryTypeBranchSummary:
		return fmt.Sprintf("branch summary (from %s): %s", e.FromID, preview(e.Summary, 50))
	case session.EntryTypeModelChange:
		return "model: " + e.Provider + "/" + e.ModelID
	case session.EntryTypeThinkingLevelChange:
		return "thinking: " + e.ThinkingLevel
	case session.EntryTypeSessionInfo:
		return "session: " + e.Name
	}
	return e.Type
}

func messageText(msg agentctx.AgentMessage) string {
	switch msg.Role {
	case agentctx.RoleCompactionSummary, agentctx.RoleBranchSummary:
		return msg.Summary
	case agentctx.RoleBashExecution:
		return "$ " + msg.Command
	}
	if text := msg.ExtractText(); text != "" {
		return text
	}
	calls := msg.ExtractToolCalls()
	names := make([]string, 0, len(calls))
	for _, call := range calls {
		names = append(names, call.Name)
	}
	if len(names) > 0 {
		return "tool calls: " + strings.Join(names, ", ")
	}
	return msg.ErrorMessage
}

func preview(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
