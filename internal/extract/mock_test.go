package extract

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/geonext/pkg/anthropic"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage:      anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}
}

func toolUseResponse(id string, input any) *anthropic.MessageResponse {
	raw, _ := json.Marshal(input)
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{
			{Type: "text", Text: "Looking that up."},
			{Type: "tool_use", ID: id, Name: ToolName, Input: raw},
		},
		StopReason: "tool_use",
	}
}

// --- Cache Mock ---

type memCache struct {
	entries map[string]string
	puts    int
}

func newMemCache() *memCache { return &memCache{entries: make(map[string]string)} }

func (c *memCache) GetExtraction(_ context.Context, key string) (string, bool, error) {
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) PutExtraction(_ context.Context, key, _, response string) error {
	c.puts++
	c.entries[key] = response
	return nil
}
