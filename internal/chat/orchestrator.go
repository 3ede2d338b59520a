// Package chat runs one assistant turn: it normalizes the caller,
// personalizes the prompt, resolves the conversation thread, drives
// the remote run to completion (answering tool calls along the way),
// and returns the assistant's reply.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nugget/penny/internal/assistant"
	"github.com/nugget/penny/internal/metrics"
	"github.com/nugget/penny/internal/portfolio"
	"github.com/nugget/penny/internal/preferences"
	"github.com/nugget/penny/internal/threads"
)

// Defaults for Options.
const (
	DefaultPollInterval    = time.Second
	DefaultMaxPollAttempts = 30
	DefaultMaxToolRounds   = 1
)

// ThreadDirectory resolves or creates a user's thread.
type ThreadDirectory interface {
	ResolveOrCreate(ctx context.Context, userID int64, onCreate func(ctx context.Context, threadID string)) (threads.Resolution, error)
}

// Personalizer supplies profiles and the initial context block.
type Personalizer interface {
	Lookup(ctx context.Context, userID int64) *preferences.Profile
	SendInitial(ctx context.Context, userID int64, threadID string)
}

// HoldingsSource lists a user's stored portfolio.
type HoldingsSource interface {
	List(ctx context.Context, userID int64) ([]portfolio.Holding, error)
}

// Dispatcher answers a single tool call.
type Dispatcher interface {
	Dispatch(ctx context.Context, name, argsJSON string) string
}

// Options tune the turn loop.
type Options struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	MaxToolRounds   int

	// Plain skips personalization and portfolio augmentation.
	Plain bool
}

// Config wires an Orchestrator.
type Config struct {
	Provider    assistant.Provider
	Threads     ThreadDirectory
	Preferences Personalizer   // nil disables personalization
	Holdings    HoldingsSource // nil disables portfolio insight
	Tools       Dispatcher
	Metrics     *metrics.Metrics
	Options     Options
	Logger      *slog.Logger

	// NewGuestID overrides guest id minting.
	NewGuestID func() string
}

// Orchestrator runs assistant turns. It is safe for concurrent use.
type Orchestrator struct {
	provider assistant.Provider
	threads  ThreadDirectory
	prefs    Personalizer
	holdings HoldingsSource
	tools    Dispatcher
	metrics  *metrics.Metrics
	opts     Options
	logger   *slog.Logger
	newGuest func() string
}

// New builds an Orchestrator, filling in option defaults.
func New(cfg Config) *Orchestrator {
	opts := cfg.Options
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newGuest := cfg.NewGuestID
	if newGuest == nil {
		newGuest = NewGuestID
	}
	return &Orchestrator{
		provider: cfg.Provider,
		threads:  cfg.Threads,
		prefs:    cfg.Preferences,
		holdings: cfg.Holdings,
		tools:    cfg.Tools,
		metrics:  cfg.Metrics,
		opts:     opts,
		logger:   logger.With("component", "chat"),
		newGuest: newGuest,
	}
}

// Request is one incoming turn.
type Request struct {
	UserID   string // registered id, guest label, or empty
	Prompt   string
	ThreadID string // optional explicit thread
}

// Reply is a successful turn.
type Reply struct {
	UserID   string `json:"userId"`
	Content  string `json:"content"`
	ThreadID string `json:"threadId"`
}

// Turn runs one full assistant turn. Every failure is a *Error.
func (o *Orchestrator) Turn(ctx context.Context, req Request) (Reply, error) {
	start := time.Now()
	reply, err := o.turn(ctx, req)

	outcome := "ok"
	var ce *Error
	if errors.As(err, &ce) {
		outcome = string(ce.Kind)
	}
	o.metrics.ChatTurn(outcome, time.Since(start))

	if err != nil {
		o.logger.Warn("chat turn failed",
			"user", reply.UserID,
			"thread_id", reply.ThreadID,
			"outcome", outcome,
			"error", err,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return Reply{}, err
	}
	o.logger.Info("chat turn completed",
		"user", reply.UserID,
		"thread_id", reply.ThreadID,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return reply, nil
}

func (o *Orchestrator) turn(ctx context.Context, req Request) (Reply, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Reply{}, fail(KindValidation, MsgPromptRequired, nil)
	}

	who, err := NormalizeIdentity(req.UserID, o.newGuest)
	if err != nil {
		return Reply{}, fail(KindValidation, MsgInvalidUser, err)
	}
	reply := Reply{UserID: who.Label, ThreadID: req.ThreadID}

	content := o.assemblePrompt(ctx, who, prompt)

	if reply.ThreadID == "" {
		res, err := o.threads.ResolveOrCreate(ctx, who.UserID, o.initialContext(who))
		if err != nil {
			kind := KindProvider
			if errors.Is(err, threads.ErrStorage) {
				kind = KindStorage
			}
			return reply, fail(kind, MsgInternal, err)
		}
		reply.ThreadID = res.ThreadID
	}

	if err := o.provider.AddMessage(ctx, reply.ThreadID, content); err != nil {
		return reply, fail(KindProvider, MsgInternal, err)
	}
	run, err := o.provider.CreateRun(ctx, reply.ThreadID)
	if err != nil {
		return reply, fail(KindProvider, MsgInternal, err)
	}

	run, err = o.await(ctx, reply.ThreadID, run, KindTimeout, MsgTimeout)
	if err != nil {
		return reply, err
	}

	for rounds := 0; run.Status == assistant.StatusRequiresAction && run.NeedsToolOutputs; rounds++ {
		if rounds >= o.opts.MaxToolRounds {
			return reply, fail(KindRunFailed, MsgRunFailed,
				errors.New("assistant requested tools beyond the permitted rounds"))
		}
		run, err = o.answerTools(ctx, reply.ThreadID, run)
		if err != nil {
			return reply, err
		}
		run, err = o.await(ctx, reply.ThreadID, run, KindToolTimeout, MsgToolTimeout)
		if err != nil {
			return reply, err
		}
	}

	if run.Status != assistant.StatusCompleted {
		cause := errors.New("run ended with status " + string(run.Status))
		if run.LastError != "" {
			cause = errors.New(string(run.Status) + ": " + run.LastError)
		}
		return reply, fail(KindRunFailed, MsgRunFailed, cause)
	}

	text, err := o.provider.LatestReply(ctx, reply.ThreadID)
	if err != nil {
		return reply, fail(KindProvider, MsgInternal, err)
	}
	if strings.TrimSpace(text) == "" {
		return reply, fail(KindEmptyReply, MsgEmptyReply, nil)
	}
	reply.Content = text
	return reply, nil
}

// assemblePrompt joins the style directives, any portfolio insight,
// and the user's prompt with blank lines.
func (o *Orchestrator) assemblePrompt(ctx context.Context, who Identity, prompt string) string {
	if o.opts.Plain {
		return prompt
	}

	var profile *preferences.Profile
	if o.prefs != nil {
		profile = o.prefs.Lookup(ctx, who.UserID)
	}

	parts := []string{preferences.Directives(profile)}
	if insight := o.portfolioInsight(ctx, who, profile, prompt); insight != "" {
		parts = append(parts, insight)
	}
	parts = append(parts, prompt)
	return strings.Join(parts, "\n\n")
}

func (o *Orchestrator) portfolioInsight(ctx context.Context, who Identity, profile *preferences.Profile, prompt string) string {
	if o.holdings == nil || who.Guest() || !strings.Contains(strings.ToLower(prompt), "portfolio") {
		return ""
	}

	holdings, err := o.holdings.List(ctx, who.UserID)
	if err != nil {
		o.logger.Warn("portfolio insight skipped", "user_id", who.UserID, "error", err)
		return ""
	}
	if len(holdings) == 0 {
		return ""
	}

	risk := portfolio.Moderate
	if profile != nil && portfolio.KnownRisk(profile.RiskTolerance) {
		risk = portfolio.NormalizeRisk(profile.RiskTolerance)
	}
	result, err := portfolio.Analyze(holdings, risk)
	if err != nil {
		o.logger.Warn("portfolio insight skipped", "user_id", who.UserID, "error", err)
		return ""
	}
	return portfolio.FormatInsight(result)
}

func (o *Orchestrator) initialContext(who Identity) func(context.Context, string) {
	if o.opts.Plain || o.prefs == nil || who.Guest() {
		return nil
	}
	return func(ctx context.Context, threadID string) {
		o.prefs.SendInitial(ctx, who.UserID, threadID)
	}
}

// await polls run at a fixed interval until it leaves the pending
// states or the attempt budget is spent.
func (o *Orchestrator) await(ctx context.Context, threadID string, run assistant.Run, kind Kind, msg string) (assistant.Run, error) {
	if !run.Status.Pending() {
		return run, nil
	}

	tick := backoff.NewConstantBackOff(o.opts.PollInterval)
	timer := time.NewTimer(tick.NextBackOff())
	defer timer.Stop()

	for attempt := 1; attempt <= o.opts.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return run, fail(kind, msg, ctx.Err())
		case <-timer.C:
		}

		next, err := o.provider.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return run, fail(KindProvider, MsgInternal, err)
		}
		run = next
		o.logger.Debug("run polled", "thread_id", threadID, "run_id", run.ID, "status", run.Status, "attempt", attempt)

		if !run.Status.Pending() {
			o.metrics.PollAttempts(attempt)
			return run, nil
		}
		timer.Reset(tick.NextBackOff())
	}

	o.metrics.PollAttempts(o.opts.MaxPollAttempts)
	return run, fail(kind, msg, nil)
}

// answerTools dispatches every requested call in order and submits
// the outputs as one batch.
func (o *Orchestrator) answerTools(ctx context.Context, threadID string, run assistant.Run) (assistant.Run, error) {
	outputs := make([]assistant.ToolOutput, 0, len(run.ToolCalls))
	for _, call := range run.ToolCalls {
		out := o.tools.Dispatch(ctx, call.Name, call.Arguments)
		outputs = append(outputs, assistant.ToolOutput{CallID: call.ID, Output: out})
	}
	o.logger.Debug("submitting tool outputs", "thread_id", threadID, "run_id", run.ID, "count", len(outputs))

	next, err := o.provider.SubmitToolOutputs(ctx, threadID, run.ID, outputs)
	if err != nil {
		return run, fail(KindProvider, MsgInternal, err)
	}
	if next.ID == "" {
		next.ID = run.ID
	}
	return next, nil
}
