// Package classifier implements the pairwise and group-level duplicate
// checks on top of the Anthropic messages API.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-dedup/internal/dedup"
	"github.com/sells-group/catalog-dedup/internal/resilience"
	"github.com/sells-group/catalog-dedup/pkg/anthropic"
)

const pairSystemPrompt = `You compare two product catalog descriptions and decide whether they denote the exact same product. Two descriptions match only if every differentiating attribute agrees. Respond with JSON only: {"match": true|false, "confidence": 0.0-1.0, "rationale": "one sentence"}.`

const groupSystemPrompt = `You review a cluster of product catalog descriptions that an automated matcher grouped together. Decide whether ALL members denote the exact same product. If any member differs from the others, reject the whole cluster. Respond with JSON only: {"merge": true|false, "rationale": "one sentence"}.`

// Classifier implements dedup.PairwiseClassifier and dedup.GroupClassifier.
type Classifier struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Classifier. maxTokens bounds each completion; 1024 is used
// when zero.
func New(client anthropic.Client, model string, maxTokens int64) *Classifier {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Classifier{client: client, model: model, maxTokens: maxTokens}
}

// Classify checks whether two descriptions denote the same product,
// paying attention to the supplied differentiating attributes.
func (c *Classifier) Classify(ctx context.Context, textA, textB string, attributes []string) (*dedup.PairVerdict, error) {
	var sb strings.Builder
	sb.WriteString("Compare these two product descriptions.\n\n")
	fmt.Fprintf(&sb, "Product A: %s\nProduct B: %s\n", textA, textB)
	if len(attributes) > 0 {
		sb.WriteString("\nAttributes that must agree for a match:\n")
		for _, attr := range attributes {
			fmt.Fprintf(&sb, "- %s\n", attr)
		}
	}

	resp, err := c.complete(ctx, pairSystemPrompt, sb.String())
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(c.model, "rerank")

	var verdict struct {
		Match      bool    `json:"match"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(extractText(resp))), &verdict); err != nil {
		return nil, resilience.NewPermanentError(
			eris.Wrap(err, "classifier: parse pair verdict"))
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	} else if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}

	return &dedup.PairVerdict{
		Match:      verdict.Match,
		Confidence: verdict.Confidence,
		Rationale:  verdict.Rationale,
	}, nil
}

// Adjudicate decides whether an entire candidate cluster should be kept.
func (c *Classifier) Adjudicate(ctx context.Context, members []string, constraints string) (*dedup.GroupVerdict, error) {
	var sb strings.Builder
	sb.WriteString("Candidate duplicate cluster:\n")
	for i, m := range members {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, m)
	}
	if constraints != "" {
		fmt.Fprintf(&sb, "\nConstraints:\n%s\n", constraints)
	}

	resp, err := c.complete(ctx, groupSystemPrompt, sb.String())
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(c.model, "merge_resolve")

	var verdict struct {
		Merge     bool   `json:"merge"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(extractText(resp))), &verdict); err != nil {
		return nil, resilience.NewPermanentError(
			eris.Wrap(err, "classifier: parse group verdict"))
	}

	return &dedup.GroupVerdict{
		Merge:     verdict.Merge,
		Rationale: verdict.Rationale,
	}, nil
}

func (c *Classifier) complete(ctx context.Context, system, user string) (*anthropic.MessageResponse, error) {
	temp := 0.0
	return c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      system,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: "user", Content: user},
			// Prefill the response to anchor the model on raw JSON output.
			{Role: "assistant", Content: "{"},
		},
	})
}

func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	// Restore the prefilled opening brace when the model continued from it.
	if !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "```") {
		text = "{" + text
	}
	return text
}

// cleanJSON strips markdown code fences and surrounding prose from a model
// response, leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
