package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-dedup/internal/resilience"
	"github.com/sells-group/catalog-dedup/pkg/anthropic"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

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
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func TestClassify_Match(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.Temperature != nil && *req.Temperature == 0
	})).Return(textResponse(`{"match": true, "confidence": 0.93, "rationale": "same product"}`), nil)

	c := New(client, "claude-haiku-4-5-20251001", 0)
	verdict, err := c.Classify(context.Background(), "cola 330ml", "cola 330 ml can",
		[]string{"flavor or variety", "size or volume"})

	require.NoError(t, err)
	assert.True(t, verdict.Match)
	assert.InDelta(t, 0.93, verdict.Confidence, 1e-9)
	assert.Equal(t, "same product", verdict.Rationale)
	client.AssertExpectations(t)
}

func TestClassify_PrefilledResponse(t *testing.T) {
	client := &mockAnthropicClient{}
	// Continuation after the prefilled opening brace.
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`"match": false, "confidence": 0.2, "rationale": "different sizes"}`), nil)

	c := New(client, "claude-haiku-4-5-20251001", 256)
	verdict, err := c.Classify(context.Background(), "cola 330ml", "cola 1.5l", nil)

	require.NoError(t, err)
	assert.False(t, verdict.Match)
	assert.InDelta(t, 0.2, verdict.Confidence, 1e-9)
}

func TestClassify_MarkdownFencedResponse(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("```json\n{\"match\": true, \"confidence\": 0.88, \"rationale\": \"ok\"}\n```"), nil)

	c := New(client, "claude-haiku-4-5-20251001", 256)
	verdict, err := c.Classify(context.Background(), "a", "b", nil)

	require.NoError(t, err)
	assert.True(t, verdict.Match)
}

func TestClassify_ConfidenceClamped(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"match": true, "confidence": 1.7, "rationale": "x"}`), nil)

	c := New(client, "claude-haiku-4-5-20251001", 256)
	verdict, err := c.Classify(context.Background(), "a", "b", nil)

	require.NoError(t, err)
	assert.Equal(t, 1.0, verdict.Confidence)
}

func TestClassify_MalformedJSON(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("I cannot answer that."), nil)

	c := New(client, "claude-haiku-4-5-20251001", 256)
	_, err := c.Classify(context.Background(), "a", "b", nil)

	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}

func TestAdjudicate_Merge(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 2 && req.Messages[1].Content == "{"
	})).Return(textResponse(`{"merge": true, "rationale": "all identical"}`), nil)

	c := New(client, "claude-haiku-4-5-20251001", 256)
	verdict, err := c.Adjudicate(context.Background(),
		[]string{"cola 330ml", "cola 330 ml", "coca cola 330ml can"}, "never merge different flavors")

	require.NoError(t, err)
	assert.True(t, verdict.Merge)
	client.AssertExpectations(t)
}

func TestAdjudicate_Reject(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"merge": false, "rationale": "one member is diet variety"}`), nil)

	c := New(client, "claude-haiku-4-5-20251001", 256)
	verdict, err := c.Adjudicate(context.Background(), []string{"cola", "diet cola"}, "")

	require.NoError(t, err)
	assert.False(t, verdict.Merge)
	assert.Contains(t, verdict.Rationale, "diet")
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding prose", `Here you go: {"a":1} hope that helps`, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.input))
		})
	}
}
