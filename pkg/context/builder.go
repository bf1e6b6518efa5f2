// Package context builds the model prompt: the fixed system instruction
// followed by the caller's chat history.
package context

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ollbud/quotebot/pkg/provider"
	"github.com/ollbud/quotebot/pkg/toolreg"
)

// Config controls prompt construction.
type Config struct {
	PromptFile     string // Optional: extra business instructions appended to the system prompt
	PromptMaxChars int    // Cap on PromptFile content (default 8000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{PromptMaxChars: 8000}
}

// Builder constructs model prompts.
type Builder struct {
	cfg      Config
	registry *toolreg.Registry
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewBuilder creates a prompt builder. registry may be nil.
func NewBuilder(cfg Config, registry *toolreg.Registry, logger *zap.SugaredLogger) *Builder {
	if cfg.PromptMaxChars <= 0 {
		cfg.PromptMaxChars = DefaultConfig().PromptMaxChars
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Builder{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// BuildMessages prepends the system prompt to history. Turns with an
// unknown role, empty turns and caller-supplied tool turns without a call
// id are dropped.
func (b *Builder) BuildMessages(history []provider.Message) []provider.Message {
	messages := make([]provider.Message, 0, len(history)+1)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: b.BuildSystemPrompt()})

	for i, m := range history {
		role, ok := provider.ParseRole(strings.ToLower(strings.TrimSpace(string(m.Role))))
		if !ok {
			b.logger.Warnw("dropping history turn with unknown role", "index", i, "role", m.Role)
			continue
		}
		m.Role = role
		switch {
		case role == provider.RoleTool && m.ToolCallID == "":
			b.logger.Warnw("dropping tool turn without call id", "index", i)
			continue
		case strings.TrimSpace(m.Content) == "" && len(m.ToolCalls) == 0:
			continue
		}
		messages = append(messages, m)
	}
	return messages
}

// LastUserMessage returns the content of the last user turn in history.
func LastUserMessage(history []provider.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if strings.EqualFold(string(history[i].Role), string(provider.RoleUser)) {
			return history[i].Content
		}
	}
	return ""
}

// BuildSystemPrompt assembles the system prompt.
func (b *Builder) BuildSystemPrompt() string {
	parts := []string{b.buildIdentity()}

	if extra := b.loadPromptFile(); extra != "" {
		parts = append(parts, extra)
	}
	if tools := b.buildToolSummary(); tools != "" {
		parts = append(parts, tools)
	}
	return strings.Join(parts, "\n\n")
}

func (b *Builder) buildIdentity() string {
	today := b.now().Format("2006-01-02")
	return fmt.Sprintf(`Jesteś asystentem firmy remontowo-budowlanej OLLBUD.
Prowadzisz uprzejmą, zwięzłą rozmowę o orientacyjnej wycenie prac remontowych i wykończeniowych.

Zasady:
1. Dopytuj krótko tylko o brakujące dane: typ obiektu (blok, kamienica, dom, stan deweloperski), powierzchnię w m² i zakres prac.
2. Gdy znasz powierzchnię i standard, wywołaj narzędzie estimate_offer. Nie podawaj kwot z pamięci.
3. Pytania o konkretne pozycje (np. tynkowanie, malowanie, płytki) sprawdzaj narzędziem get_rate.
4. Podawaj kwoty netto i stawkę VAT, bez kwot brutto.
5. Odpowiadaj po polsku.

Dzisiejsza data: %s`, today)
}

func (b *Builder) loadPromptFile() string {
	if b.cfg.PromptFile == "" {
		return ""
	}
	data, err := os.ReadFile(b.cfg.PromptFile)
	if err != nil {
		b.logger.Warnw("prompt file unreadable", "path", b.cfg.PromptFile, "error", err)
		return ""
	}
	content := strings.TrimSpace(string(data))
	if r := []rune(content); len(r) > b.cfg.PromptMaxChars {
		content = string(r[:b.cfg.PromptMaxChars]) + "\n\n[... truncated]"
	}
	return content
}

func (b *Builder) buildToolSummary() string {
	if b.registry == nil {
		return ""
	}
	defs := b.registry.ToToolDefs()
	if len(defs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Dostępne narzędzia:\n")
	for _, d := range defs {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", d.Name, d.Description))
	}
	return strings.TrimRight(sb.String(), "\n")
}
