package search

import (
	"strings"

	"github.com/hyperjump/kioku/internal/models"
)

// SystemPrompt is the fixed instruction placed before the context block in the system turn.
const SystemPrompt = `Please respond in a formal and professional tone. Avoid using casual language or informal expressions. Focus on providing clear, accurate, and respectful responses based on the information provided, and do not include irrelevant context. Be concise. Don't answer questions you have not been given. The system will provide you potentially helpful context. do not explicitly refer to the context. Answer questions you do not know the asnwer to with "I don't know" ` + "\n"

// ContextBlock renders note texts as a bulleted "Context:" block, or "" when there are none.
func ContextBlock(notes []*models.Note) string {
	if len(notes) == 0 {
		return ""
	}
	lines := make([]string, len(notes))
	for i, n := range notes {
		lines[i] = "- " + n.Text
	}
	return "Context:\n" + strings.Join(lines, "\n")
}

// BuildMessages assembles the conversation sent to the chat model: one system turn holding the
// instruction and context block, then the prior turns unchanged, then the query as a user turn.
func BuildMessages(contextBlock string, prior []models.Message, query string) []models.Message {
	messages := make([]models.Message, 0, len(prior)+2)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: SystemPrompt + contextBlock})
	messages = append(messages, prior...)
	return append(messages, models.Message{Role: models.RoleUser, Content: query})
}
