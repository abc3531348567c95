package models

import "time"

// ChatMessage is one role-tagged turn submitted to the completion service.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage mirrors the token counts attached to a completed interaction.
// PromptTokens/CompletionTokens come from our own tokenizer, not from
// unconfirmed provider metadata.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// CompletionResult is the outcome of one AI completion call.
type CompletionResult struct {
	Text          string
	Model         string
	Created       time.Time
	ReportedUsage Usage
	ProviderTrace string
}

// Role constants for chat turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
