// Package orchestrator runs one chat request through the quoting protocol:
// ask the model, run the tools it requests, and answer from the tool
// results, degrading to deterministic text whenever a remote call fails.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ollbud/quotebot/pkg/compose"
	ctxpkg "github.com/ollbud/quotebot/pkg/context"
	"github.com/ollbud/quotebot/pkg/pricing"
	"github.com/ollbud/quotebot/pkg/provider"
	"github.com/ollbud/quotebot/pkg/toolreg"
)

// Outcome names the path a request took.
type Outcome string

const (
	OutcomeDirect   Outcome = "direct"   // model answered without tools
	OutcomeQuick    Outcome = "quick"    // reply synthesized from tool results
	OutcomeFinal    Outcome = "final"    // second model call phrased the reply
	OutcomeFallback Outcome = "fallback" // second model call failed; tool results rendered
	OutcomeDegraded Outcome = "degraded" // first model call or tool dispatch failed
	OutcomeConfig   Outcome = "config"   // model service not configured
)

// Response is the result of SubmitChat.
type Response struct {
	Reply   string           `json:"reply"`
	Outcome Outcome          `json:"-"`
	Results []toolreg.Result `json:"-"`
}

// LeadRecorder receives every estimate produced for a client.
type LeadRecorder interface {
	RecordEstimate(ctx context.Context, clientID string, est pricing.EstimateResult) error
}

// Config for the orchestrator.
type Config struct {
	Model       string        // empty uses the provider default
	Temperature float64       // sampling temperature for both model calls
	MaxTokens   int           // completion cap per model call
	Timeout     time.Duration // per model call; 0 disables
	QuickReply  bool          // answer from tool results without a second model call
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Temperature: 0.3,
		MaxTokens:   1024,
		Timeout:     45 * time.Second,
		QuickReply:  true,
	}
}

// Orchestrator is safe for concurrent use; requests share no mutable state.
type Orchestrator struct {
	provider provider.Provider
	registry *toolreg.Registry
	builder  *ctxpkg.Builder
	cfg      Config
	logger   *zap.SugaredLogger
	leads    LeadRecorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLeadRecorder hands every executed estimate to r.
func WithLeadRecorder(r LeadRecorder) Option {
	return func(o *Orchestrator) { o.leads = r }
}

// New creates an orchestrator.
func New(p provider.Provider, reg *toolreg.Registry, cb *ctxpkg.Builder, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: p,
		registry: reg,
		builder:  cb,
		cfg:      cfg,
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type clientIDKey struct{}

// WithClientID attaches the end-user identifier used for lead records.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, id)
}

// ClientID returns the identifier set by WithClientID.
func ClientID(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey{}).(string)
	return id
}

// SubmitChat answers the latest turn of history. It never fails: every
// error is logged and turned into a well-formed reply.
func (o *Orchestrator) SubmitChat(ctx context.Context, history []provider.Message) Response {
	start := time.Now()
	log := o.logger.With("request_id", uuid.NewString())

	resp := o.run(ctx, log, history)

	log.Infow("chat completed",
		"outcome", resp.Outcome,
		"tool_results", len(resp.Results),
		"duration", time.Since(start),
	)
	return resp
}

func (o *Orchestrator) run(ctx context.Context, log *zap.SugaredLogger, history []provider.Message) Response {
	messages := o.builder.BuildMessages(history)
	toolDefs := o.registry.ToToolDefs()

	first, err := o.chat(ctx, log, 1, messages, toolDefs)
	if err != nil {
		if errors.Is(err, provider.ErrMissingCredential) {
			log.Errorw("model service not configured", "error", err)
			return Response{Reply: compose.ConfigApology(), Outcome: OutcomeConfig}
		}
		log.Errorw("model call failed", "round", 1, "error", err)
		return Response{Reply: compose.Apology, Outcome: OutcomeDegraded}
	}

	if len(first.ToolCalls) == 0 {
		text := strings.TrimSpace(first.Content)
		if text == "" {
			log.Warnw("model returned neither text nor tool calls")
			text = compose.Apology
		}
		return Response{Reply: compose.WithFooter(text), Outcome: OutcomeDirect}
	}

	calls := ensureCallIDs(first.ToolCalls)
	results, err := o.dispatch(ctx, log, calls)
	if err != nil {
		log.Errorw("tool dispatch aborted", "error", err, "completed", len(results))
		return Response{Reply: compose.Fallback(results), Outcome: OutcomeDegraded, Results: results}
	}
	o.recordLeads(ctx, log, results)

	if o.cfg.QuickReply {
		return Response{
			Reply:   compose.QuickReply(ctxpkg.LastUserMessage(history), results),
			Outcome: OutcomeQuick,
			Results: results,
		}
	}

	followup := make([]provider.Message, 0, len(messages)+1+len(results))
	followup = append(followup, messages...)
	followup = append(followup, provider.Message{
		Role:      provider.RoleAssistant,
		Content:   first.Content,
		ToolCalls: calls,
	})
	for _, r := range results {
		followup = append(followup, provider.Message{
			Role:       provider.RoleTool,
			Content:    r.Content(),
			ToolCallID: r.CallID,
			Name:       string(r.Kind),
		})
	}

	second, err := o.chat(ctx, log, 2, followup, toolDefs)
	if err != nil {
		log.Warnw("model call failed, rendering tool results", "round", 2, "error", err)
		return Response{Reply: compose.Fallback(results), Outcome: OutcomeFallback, Results: results}
	}
	text := strings.TrimSpace(second.Content)
	if text == "" {
		log.Warnw("empty final reply, rendering tool results", "tool_calls", len(second.ToolCalls))
		return Response{Reply: compose.Fallback(results), Outcome: OutcomeFallback, Results: results}
	}
	return Response{Reply: compose.WithFooter(text), Outcome: OutcomeFinal, Results: results}
}

func (o *Orchestrator) chat(ctx context.Context, log *zap.SugaredLogger, round int, messages []provider.Message, tools []provider.ToolDef) (*provider.ChatResponse, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := o.provider.Chat(ctx, provider.ChatRequest{
		Model:       o.cfg.Model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: provider.Float(o.cfg.Temperature),
	})
	if err != nil {
		return nil, err
	}

	log.Debugw("model call",
		"round", round,
		"provider", o.provider.Name(),
		"messages", len(messages),
		"tool_calls", len(resp.ToolCalls),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start),
	)
	return resp, nil
}

// dispatch runs calls in order. The first argument or calculator error
// stops it; results computed so far are returned with the error.
func (o *Orchestrator) dispatch(ctx context.Context, log *zap.SugaredLogger, calls []provider.ToolCall) ([]toolreg.Result, error) {
	results := make([]toolreg.Result, 0, len(calls))
	for _, tc := range calls {
		log.Infow("tool call", "tool", tc.Name, "id", tc.ID, "args", compose.Truncate(tc.Arguments, 200))

		res, err := o.registry.Execute(ctx, tc)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (o *Orchestrator) recordLeads(ctx context.Context, log *zap.SugaredLogger, results []toolreg.Result) {
	if o.leads == nil {
		return
	}
	clientID := ClientID(ctx)
	for _, r := range results {
		if r.Estimate == nil {
			continue
		}
		if err := o.leads.RecordEstimate(ctx, clientID, *r.Estimate); err != nil {
			log.Warnw("lead record failed", "error", err)
		}
	}
}

// ensureCallIDs fills in ids some OpenAI-compatible endpoints omit, so tool
// turns can reference their call.
func ensureCallIDs(calls []provider.ToolCall) []provider.ToolCall {
	out := make([]provider.ToolCall, len(calls))
	for i, tc := range calls {
		if tc.ID == "" {
			tc.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		out[i] = tc
	}
	return out
}
