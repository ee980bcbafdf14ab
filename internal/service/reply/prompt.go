package reply

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/companion/backend/internal/model/locale"
)

// PromptTemplate defines the structure of the assistant's system prompt.
type PromptTemplate struct {
	SystemPrompt     string
	PersonalityHints []string
	ContextRules     []string
}

// PromptManager builds system prompts for a reply language.
type PromptManager struct {
	base      *PromptTemplate
	overrides map[string][]string
}

// NewPromptManager creates a prompt manager with the default companion
// template.
func NewPromptManager() *PromptManager {
	pm := &PromptManager{overrides: make(map[string][]string)}
	pm.loadDefaultTemplates()
	return pm
}

// BuildSystemPrompt creates the system prompt for replies in lang.
func (pm *PromptManager) BuildSystemPrompt(lang locale.Language) string {
	rules := append([]string(nil), pm.base.ContextRules...)
	rules = append(rules, pm.overrides[lang.Code]...)

	return fmt.Sprintf(`%s

Personality:
- %s

Conversation rules:
- %s

Always answer in %s (%s). If the user writes in another language, still answer in %s.`,
		pm.base.SystemPrompt,
		strings.Join(pm.base.PersonalityHints, "\n- "),
		strings.Join(rules, "\n- "),
		lang.Name,
		lang.Native,
		lang.Name,
	)
}

func (pm *PromptManager) loadDefaultTemplates() {
	pm.base = &PromptTemplate{
		SystemPrompt: `You are a friendly companion inside a mobile chat app. You help with everyday questions, keep people company and give short, practical answers.`,
		PersonalityHints: []string{
			"Warm and patient, never condescending",
			"Plain words over jargon",
			"Curious about the user's situation before giving advice",
		},
		ContextRules: []string{
			"Keep replies under 120 words unless the user asks for detail",
			"Use earlier messages in the conversation for context",
			"If you do not know something, say so",
		},
	}

	// Indic scripts render poorly with markdown on small screens.
	for _, code := range []string{"hi", "ta", "bn", "gu", "mr", "te", "kn"} {
		pm.overrides[code] = []string{
			"Write in the native script, not transliteration",
			"Avoid markdown formatting",
		}
	}
}
