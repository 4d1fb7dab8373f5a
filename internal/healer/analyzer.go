package healer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// AnalyzerConfig tunes the LLM-fallback escalation path of §4.9.
type AnalyzerConfig struct {
	APIKey   string // falls back to ANTHROPIC_API_KEY
	Model    string // falls back to a fixed default
	MaxCalls int    // per-session hard cap; 0 disables the fallback entirely
	Cooldown time.Duration
}

// DefaultAnalyzerConfig matches the teacher's supervisor defaults
// (internal/ai.Supervisor's NewSupervisor) sized down for a side-channel
// observer rather than a primary decision-maker.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Model:    "claude-sonnet-4-5-20250929",
		MaxCalls: 20,
		Cooldown: 10 * time.Second,
	}
}

// Analyzer escalates an unrecognized error line to an LLM for root-cause
// analysis, subject to the per-session cap, cooldown, and
// content-addressed cache §4.9 requires; the per-error dedup set is
// checked by the caller before Analyze. Grounded on the
// teacher's internal/ai.Supervisor.GenerateRecoveryStrategy: build a
// prompt, call Messages.New, parse the text response back into a typed
// result.
type Analyzer struct {
	cfg     AnalyzerConfig
	client  *anthropic.Client
	cache   *LLMCache
	state   *MonitorState
	limiter *rate.Limiter

	mu sync.Mutex
}

// NewAnalyzer constructs an Analyzer. It returns an analyzer with a nil
// client (Analyze becomes a no-op returning ErrAnalyzerDisabled) when no
// API key is configured or MaxCalls is 0 — the healer's pattern-match
// path must keep working without an LLM key present.
func NewAnalyzer(cfg AnalyzerConfig, cache *LLMCache, state *MonitorState) *Analyzer {
	if cfg.Model == "" {
		cfg.Model = DefaultAnalyzerConfig().Model
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	a := &Analyzer{
		cfg:     cfg,
		cache:   cache,
		state:   state,
		limiter: rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
	}
	if apiKey != "" && cfg.MaxCalls > 0 {
		client := anthropic.NewClient(option.WithAPIKey(apiKey))
		a.client = &client
	}
	return a
}

// ErrAnalyzerDisabled is returned by Analyze when no API key is
// configured or the session call cap has been reached.
var ErrAnalyzerDisabled = fmt.Errorf("llm fallback analyzer disabled")

// ErrCooldown is returned when a call arrives before the configured
// cooldown interval has elapsed since the last one.
var ErrCooldown = fmt.Errorf("llm fallback analyzer in cooldown")

// Analyze escalates line (with surrounding context) to the LLM, or
// returns a cached analysis for the same normalized error. Callers are
// expected to have already checked MonitorState.WasAnalyzed for the
// per-error dedup set.
func (a *Analyzer) Analyze(ctx context.Context, line string, context_ []string) (Analysis, error) {
	if a.client == nil {
		return Analysis{}, ErrAnalyzerDisabled
	}

	if cached, ok := a.cache.Get(line, time.Now()); ok {
		return cached, nil
	}

	// The limiter is the in-process cooldown gate (one token per
	// Cooldown interval, refilled continuously rather than measured
	// from a single persisted timestamp); MonitorState.LastLLMCallAt
	// remains the cross-restart record of when calls happened.
	if !a.limiter.Allow() {
		return Analysis{}, ErrCooldown
	}
	if last := a.state.LastLLMCallAt(); !last.IsZero() && time.Since(last) < a.cfg.Cooldown {
		return Analysis{}, ErrCooldown
	}

	a.mu.Lock()
	if a.state.LLMCallCount() >= a.cfg.MaxCalls {
		a.mu.Unlock()
		return Analysis{}, ErrAnalyzerDisabled
	}
	a.state.RecordLLMCall(time.Now())
	a.mu.Unlock()

	prompt := buildAnalysisPrompt(line, context_)

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(text), &analysis); err != nil {
		return Analysis{}, fmt.Errorf("parse analysis response: %w (response: %s)", err, text)
	}

	a.cache.Put(line, analysis, time.Now())
	return analysis, nil
}

func buildAnalysisPrompt(line string, context_ []string) string {
	return fmt.Sprintf(`You are diagnosing an error line observed in a task runner's log stream.

ERROR LINE:
%s

RECENT CONTEXT (most recent last):
%s

Respond with ONLY raw JSON, no markdown fences, matching exactly:
{
  "rootCause": "one sentence describing the likely root cause",
  "suggestedFixes": ["short actionable fix", "..."],
  "confidence": 0.0
}`, line, joinLines(context_))
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}
