package tokenizer

import "github.com/rootedhq/rooted/backend/internal/models"

// Advisory estimation for pre-flight display only. ~4 bytes per token holds
// for English with GPT-family tokenizers; never used for recorded events.

// EstimateMessages approximates the input-token count for a request.
func EstimateMessages(msgs []models.ChatMessage) int64 {
	var total int64
	for _, msg := range msgs {
		total += tokensPerMessage
		total += estimateText(msg.Role)
		total += estimateText(msg.Content)
	}
	total += replyPrimer
	return total
}

// EstimateText approximates the token count of a plain string.
func EstimateText(text string) int64 {
	return estimateText(text)
}

func estimateText(s string) int64 {
	if len(s) == 0 {
		return 0
	}
	return int64((len(s) + 3) / 4)
}
