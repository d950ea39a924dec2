package llm

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	// Role is RoleSystem, RoleUser or RoleAssistant.
	Role string

	Content string
}

// UserMessage is shorthand for a user-role Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}
