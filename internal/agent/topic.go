package agent

import (
	"fmt"
	"strings"
)

// ResearchTopic derives the research topic from the conversation. A single
// message is used verbatim; a multi-turn history is rendered in full so
// follow-up questions keep their context.
func ResearchTopic(messages []Message) string {
	if len(messages) == 1 {
		return messages[0].Content
	}

	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		case RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
		}
	}
	return b.String()
}
