// Package render turns a fired trigger into participant-facing text.
//
// AI-backed triggers go through the text-generation collaborator with a
// bounded timeout; every path degrades to the trigger's deterministic
// metadata templates so an intervention is never left unrendered.
package render

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/CALM-Lab/GameBridge/internal/models"
)

// DefaultLocale is used when no prompt matches the room's locale.
const DefaultLocale = "en"

// DefaultCheckIn is the neutral fallback when a trigger carries no usable
// metadata templates.
const DefaultCheckIn = "Let's pause for a moment. How is everyone feeling about the game right now?"

// DefaultGenerationTimeout bounds a single text-generation call.
const DefaultGenerationTimeout = 15 * time.Second

// Generator is the text-generation collaborator.
type Generator interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Vars holds the substitution values available to prompt templates.
type Vars struct {
	RoomCode        string
	Locale          string
	ParticipantName string
	TriggerID       string
	Severity        models.Severity
	Signals         models.Signals
}

// Rendered is the outcome of rendering one fired trigger.
type Rendered struct {
	Content string
	// Degraded marks content produced by the fallback path after a
	// generation failure or timeout.
	Degraded bool
}

// Renderer renders fired triggers. A nil generator forces the deterministic
// path for every trigger.
type Renderer struct {
	gen     Generator
	timeout time.Duration
}

// NewRenderer creates a renderer around the given generator. A zero timeout
// falls back to DefaultGenerationTimeout.
func NewRenderer(gen Generator, timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	return &Renderer{gen: gen, timeout: timeout}
}

// Render produces the content for a fired trigger.
func (r *Renderer) Render(ctx context.Context, cfg models.TriggerConfig, vars Vars) Rendered {
	if !cfg.UsesAI || r.gen == nil {
		return Rendered{Content: renderMetadata(cfg.Metadata, vars)}
	}

	prompt, ok := selectPrompt(cfg.Prompts, vars.Locale)
	if !ok {
		slog.Warn("No usable prompt template, using metadata fallback", "triggerID", cfg.ID)
		return Rendered{Content: renderMetadata(cfg.Metadata, vars), Degraded: true}
	}

	genCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	content, err := r.gen.GeneratePrompt(genCtx,
		substitute(prompt.SystemPrompt, vars),
		substitute(prompt.UserPrompt, vars))
	if err != nil || strings.TrimSpace(content) == "" {
		slog.Warn("Generation failed, using metadata fallback", "triggerID", cfg.ID, "error", err)
		return Rendered{Content: renderMetadata(cfg.Metadata, vars), Degraded: true}
	}
	return Rendered{Content: content}
}

// selectPrompt picks the highest-priority active prompt for the locale,
// falling back to DefaultLocale.
func selectPrompt(prompts []models.PromptTemplate, locale string) (models.PromptTemplate, bool) {
	best, ok := bestForLocale(prompts, locale)
	if !ok && locale != DefaultLocale {
		best, ok = bestForLocale(prompts, DefaultLocale)
	}
	return best, ok
}

func bestForLocale(prompts []models.PromptTemplate, locale string) (models.PromptTemplate, bool) {
	var best models.PromptTemplate
	found := false
	for _, p := range prompts {
		if !p.Active || p.Locale != locale || p.UserPrompt == "" {
			continue
		}
		if !found || p.Priority > best.Priority {
			best = p
			found = true
		}
	}
	return best, found
}

// renderMetadata interpolates the deterministic templates. Non-empty parts
// are joined in message, question, micro-action order.
func renderMetadata(meta models.TriggerMetadata, vars Vars) string {
	var parts []string
	for _, tpl := range []string{meta.Message, meta.Question, meta.MicroAction} {
		if tpl != "" {
			parts = append(parts, substitute(tpl, vars))
		}
	}
	if len(parts) == 0 {
		return DefaultCheckIn
	}
	return strings.Join(parts, "\n")
}

// substitute replaces the supported {{variable}} placeholders.
func substitute(tpl string, vars Vars) string {
	replacer := strings.NewReplacer(
		"{{room_code}}", vars.RoomCode,
		"{{participant_name}}", vars.ParticipantName,
		"{{trigger_id}}", vars.TriggerID,
		"{{severity}}", string(vars.Severity),
		"{{repeat_count}}", strconv.Itoa(vars.Signals.RepeatCount),
		"{{repeat_pos}}", strconv.Itoa(vars.Signals.RepeatPos),
		"{{setback_streak}}", strconv.Itoa(vars.Signals.SetbackStreak),
		"{{prestart_rolls}}", strconv.Itoa(vars.Signals.PreStartRolls),
		"{{inactivity_minutes}}", strconv.Itoa(vars.Signals.InactivityMinutes),
	)
	return replacer.Replace(tpl)
}
