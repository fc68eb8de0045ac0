package model

type ChatRole string

const (
	ChatRoleSystem ChatRole = "system"
	ChatRoleUser   ChatRole = "user"
)

// ChatMessage is a provider independent reader message
type ChatMessage struct {
	Role    ChatRole
	Content string
}

// CompletionConfig controls a single reader call
type CompletionConfig struct {
	Temperature float64
	MaxTokens   int
}
