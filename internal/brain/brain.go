// Package brain provides the response stage: generators that turn the conversation
// history and the latest user text into a stream of reply fragments.
package brain

import (
	"strings"

	"github.com/ent0n29/aspen/internal/conversation"
)

const DefaultSystemPrompt = "You are a friendly voice assistant on a phone call. " +
	"Answer in one to three short spoken sentences. Never use markdown, lists, code or emoji."

// BuildMessages renders the prompt sent to a chat model: the system prompt, the
// committed history and the new user text.
func BuildMessages(systemPrompt string, history conversation.Snapshot, userText string) []conversation.Message {
	var msgs []conversation.Message
	if p := strings.TrimSpace(systemPrompt); p != "" {
		msgs = append(msgs, conversation.Message{Role: conversation.RoleSystem, Content: p})
	}
	msgs = append(msgs, history.Messages()...)
	if t := strings.TrimSpace(userText); t != "" {
		msgs = conversation.AppendMessage(msgs, conversation.RoleUser, t)
	}
	return msgs
}
