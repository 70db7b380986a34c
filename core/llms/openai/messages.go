package openai

import "github.com/junavoice/juna-core/core/llms"

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

type message struct {
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

func toMessages(instructions string, history []llms.Exchange) []message {
	messages := []message{}
	if instructions != "" {
		messages = append(messages, message{
			Role:    messageRoleSystem,
			Content: instructions,
		})
	}

	for _, exchange := range history {
		role := messageRoleUser
		if exchange.Role == llms.RoleAssistant {
			role = messageRoleAssistant
		}
		messages = append(messages, message{
			Role:    role,
			Content: exchange.Content,
		})
	}
	return messages
}
