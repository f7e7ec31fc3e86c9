package services

import (
	"strconv"
	"strings"

	"github.com/custodia-labs/docchat/internal/core/domain"
)

// SystemInstruction is the fixed instruction sent with every question.
const SystemInstruction = "Use the following pieces of context (or previous conversation if needed) " +
	"to answer the user's question in markdown format. If you don't know the answer, " +
	"just say that you don't know; don't try to make up an answer."

const promptRule = "-----------------"

// ComposePrompt builds the model conversation for a question: the system
// instruction, prior turns in their native roles, then one user message
// carrying the serialized turns, the numbered passages and the question.
func ComposePrompt(history []*domain.Message, passages []domain.ScoredPassage, question string) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, domain.ChatMessage{Role: domain.RoleSystem, Content: SystemInstruction})
	for _, m := range history {
		msgs = append(msgs, domain.ChatMessage{Role: m.Role, Content: m.Text})
	}
	msgs = append(msgs, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: composeUserContent(history, passages, question),
	})
	return msgs
}

// composeUserContent serializes one turn per line as "User: ..." or
// "Assistant: ...", and passages as "[n] text" blocks separated by a blank line.
func composeUserContent(history []*domain.Message, passages []domain.ScoredPassage, question string) string {
	var b strings.Builder

	b.WriteString(SystemInstruction)
	b.WriteString("\n\n")
	b.WriteString(promptRule)
	b.WriteString("\nPREVIOUS MESSAGES:\n")
	if len(history) == 0 {
		b.WriteString("(none)\n")
	}
	for _, m := range history {
		if m.IsUserMessage() {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(singleLine(m.Text))
		b.WriteByte('\n')
	}
	b.WriteString(promptRule)
	b.WriteString("\n\nCONTEXT:\n")
	if len(passages) == 0 {
		b.WriteString("(no relevant passages found)\n")
	}
	for i, ps := range passages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] ")
		b.WriteString(strings.TrimSpace(ps.Text))
		b.WriteByte('\n')
	}
	b.WriteString("\nUSER INPUT: ")
	b.WriteString(question)

	return b.String()
}

func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(strings.ReplaceAll(s, "\r", " "))
}
