package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"signalbridge/internal/config"
	"signalbridge/internal/model"
)

// LLMClient calls an OpenAI-compatible chat completion endpoint and maps the
// model's JSON answer onto the extraction shape.
type LLMClient struct {
	http      *resty.Client
	model     string
	maxTokens int
	temp      float64
}

// NewLLMClient returns nil when no API key is configured, disabling the path.
func NewLLMClient(cfg config.LLMConfig) *LLMClient {
	if cfg.APIKey == "" {
		return nil
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(20*time.Second).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &LLMClient{
		http:      client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		temp:      cfg.Temp,
	}
}

const extractionPrompt = `Extract trading signal fields from the message below.
Respond with a single JSON object and nothing else:
{"symbol": "", "side": "buy|sell", "entry_price": null, "entry_range": [],
 "stop_loss": null, "take_profits": [], "reasoning": ""}
Use null/empty for anything not present. Prices are numbers.

Message:
`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// llmFields is the model's answer shape. Numbers arrive as JSON numbers and
// are re-parsed through decimal to keep precision.
type llmFields struct {
	Symbol      string        `json:"symbol"`
	Side        string        `json:"side"`
	EntryPrice  *json.Number  `json:"entry_price"`
	EntryRange  []json.Number `json:"entry_range"`
	StopLoss    *json.Number  `json:"stop_loss"`
	TakeProfits []json.Number `json:"take_profits"`
	Reasoning   string        `json:"reasoning"`
}

func (c *LLMClient) extract(ctx context.Context, text string) (*model.Extraction, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: extractionPrompt + text},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temp,
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/v1/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("llm request: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("llm response: no choices")
	}

	fields, err := parseLLMAnswer(out.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return fields.toExtraction(text)
}

// parseLLMAnswer tolerates prose around the JSON object by slicing between the
// first '{' and the last '}'.
func parseLLMAnswer(content string) (*llmFields, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("llm response: no JSON object in %q", content)
	}

	dec := json.NewDecoder(strings.NewReader(content[start : end+1]))
	dec.UseNumber()
	var f llmFields
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("llm response: %w", err)
	}
	return &f, nil
}

func numToDec(n json.Number) (decimal.Decimal, error) {
	return decimal.NewFromString(n.String())
}

func (f *llmFields) toExtraction(text string) (*model.Extraction, error) {
	ext := model.Extraction{
		Symbol:    strings.ToUpper(strings.TrimSpace(f.Symbol)),
		Method:    "llm",
		Reasoning: f.Reasoning,
	}

	if f.Side != "" {
		side, err := model.ParseSide(strings.ToLower(f.Side))
		if err != nil {
			return nil, err
		}
		ext.Side = side
	}

	if f.EntryPrice != nil {
		v, err := numToDec(*f.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("llm entry_price: %w", err)
		}
		ext.Entry = &v
	}
	if len(f.EntryRange) == 2 {
		low, err := numToDec(f.EntryRange[0])
		if err != nil {
			return nil, fmt.Errorf("llm entry_range: %w", err)
		}
		high, err := numToDec(f.EntryRange[1])
		if err != nil {
			return nil, fmt.Errorf("llm entry_range: %w", err)
		}
		if low.GreaterThan(high) {
			low, high = high, low
		}
		ext.EntryRange = []decimal.Decimal{low, high}
		if ext.Entry == nil {
			ext.Entry = &low
		}
	}
	if f.StopLoss != nil {
		v, err := numToDec(*f.StopLoss)
		if err != nil {
			return nil, fmt.Errorf("llm stop_loss: %w", err)
		}
		ext.StopLoss = &v
	}
	for i, n := range f.TakeProfits {
		v, err := numToDec(n)
		if err != nil {
			return nil, fmt.Errorf("llm take_profits[%d]: %w", i, err)
		}
		ext.TakeProfits = append(ext.TakeProfits, v)
	}
	if len(ext.TakeProfits) > 0 {
		ext.TakeProfit = &ext.TakeProfits[0]
	}

	ext.Confidence = confidence(ext, text)
	return &ext, nil
}
