package tokenizer

import (
	"errors"
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/rootedhq/rooted/backend/internal/catalog"
	"github.com/rootedhq/rooted/backend/internal/models"
)

// ErrUnsupportedModel signals that no exact tokenizer exists for the model.
// Recorded events must never fall back to an approximation, so this surfaces
// as a configuration error instead of a silent estimate.
var ErrUnsupportedModel = errors.New("no tokenizer for model")

// Per-message framing overhead and reply primer for chat-format models.
const (
	tokensPerMessage = 4
	replyPrimer      = 3
)

// Counter produces exact, model-aware token counts for billing. Encoders are
// cached per encoding name; building one is expensive.
type Counter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

func NewCounter() *Counter {
	return &Counter{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// CountMessages returns the exact input-token count for the message turns
// under the given model's encoding, including chat framing overhead.
func (c *Counter) CountMessages(model catalog.Model, msgs []models.ChatMessage) (int64, error) {
	enc, err := c.encoder(model)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, msg := range msgs {
		total += tokensPerMessage
		total += int64(len(enc.Encode(msg.Role, nil, nil)))
		total += int64(len(enc.Encode(msg.Content, nil, nil)))
	}
	total += replyPrimer
	return total, nil
}

// CountText returns the exact token count for generated output text.
func (c *Counter) CountText(model catalog.Model, text string) (int64, error) {
	enc, err := c.encoder(model)
	if err != nil {
		return 0, err
	}
	return int64(len(enc.Encode(text, nil, nil))), nil
}

func (c *Counter) encoder(model catalog.Model) (*tiktoken.Tiktoken, error) {
	name := model.Encoding
	c.mu.Lock()
	defer c.mu.Unlock()

	if name != "" {
		if enc, ok := c.encoders[name]; ok {
			return enc, nil
		}
		enc, err := tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding %q: %v", ErrUnsupportedModel, name, err)
		}
		c.encoders[name] = enc
		return enc, nil
	}

	if enc, ok := c.encoders["model:"+model.ProviderModel]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model.ProviderModel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedModel, model.ProviderModel, err)
	}
	c.encoders["model:"+model.ProviderModel] = enc
	return enc, nil
}
