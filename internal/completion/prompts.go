package completion

import (
	"fmt"
	"strings"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are Viralyze, a content strategist for short-form social media creators.
Write in a %s tone. Answer in the language with code "%s".
%s`

var instructions = map[models.ItemType]string{
	models.HookItem: `Write 5 scroll-stopping opening hooks for a video about the topic below.
Each hook must fit in under 3 seconds of speech. Return one hook per line, no numbering.

Topic: %s`,
	models.ScriptItem: `Write a 30-45 second video script about the topic below.
Structure it as HOOK, BODY (3 beats) and CALL TO ACTION, each on its own labelled line.

Topic: %s`,
	models.CaptionItem: `Write 3 alternative captions for a post about the topic below.
Each caption ends with 3-5 relevant hashtags. Separate captions with a blank line.

Topic: %s`,
	models.CalendarItem: `Plan a 7-day posting calendar around the theme below.
Return one line per day in the form "Day N - format - idea".

Theme: %s`,
	models.RewriteItem: `Rewrite the following text so it performs better on short-form platforms.
Keep the meaning, tighten the wording and open with a hook.

Text: %s`,
	models.ImageItem: `Describe, in a single paragraph usable as an image generation prompt, a thumbnail for the topic below.
No text overlays.

Topic: %s`,
}

// creatorContext renders the profile as a sentence for the system prompt.
func creatorContext(p *models.Profile) string {
	if p == nil {
		return "Nothing is known about the creator yet; keep advice general."
	}
	var parts []string
	if p.Niche != "" {
		parts = append(parts, fmt.Sprintf("works in the %s niche", p.Niche))
	}
	if len(p.Platforms) > 0 {
		parts = append(parts, "posts on "+strings.Join(p.Platforms, ", "))
	}
	if p.Followers > 0 {
		parts = append(parts, fmt.Sprintf("has about %d followers", p.Followers))
	}
	if p.Goal != "" {
		parts = append(parts, "wants to "+p.Goal)
	}
	if len(parts) == 0 {
		return "Nothing is known about the creator yet; keep advice general."
	}
	return "The creator " + strings.Join(parts, ", ") + "."
}

func system(p *models.Profile, prefs models.Preferences) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(systemPrompt, prefs.Tone, prefs.Language, creatorContext(p)),
	}
}

// Prompt builds the messages that generate one artifact of itemType.
func Prompt(itemType models.ItemType, p *models.Profile, prefs models.Preferences, input string) ([]openai.ChatCompletionMessage, error) {
	tmpl, ok := instructions[itemType]
	if !ok {
		return nil, fmt.Errorf("no prompt for item type %q", itemType)
	}
	return []openai.ChatCompletionMessage{
		system(p, prefs),
		{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(tmpl, strings.TrimSpace(input))},
	}, nil
}

// ChatPrompt builds the messages for a conversational reply from the history
// of a conversation, oldest first.
func ChatPrompt(p *models.Profile, prefs models.Preferences, history []models.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, system(p, prefs))
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return messages
}
