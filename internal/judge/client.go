// Package judge calls an external AI model to decide natural-language
// conditions over call transcripts and manager comments.
//
// The endpoint speaks the chat-completions protocol. The model is asked to
// answer with a JSON object {"verdict": bool, "reasoning": string}; anything
// else is reported as a malformed response.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/rules"
)

// ErrMalformedResponse is returned when the model's answer cannot be parsed.
var ErrMalformedResponse = errors.New("malformed judge response")

const systemPrompt = `You are a quality-control auditor for a sales call center.
You receive an instruction and a text (a call transcript or a manager comment).
Decide whether the instruction holds for the text.
Answer only with a JSON object: {"verdict": true|false, "reasoning": "<one or two sentences>"}.`

// Config holds the judge endpoint settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	RetryCount int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type verdictPayload struct {
	Verdict   *bool  `json:"verdict"`
	Reasoning string `json:"reasoning"`
}

// Client is an HTTP AI judge. It implements rules.Judge.
type Client struct {
	httpClient *resty.Client
	model      string
	logger     *zap.Logger
}

// NewClient creates a judge client. Timeout bounds every attempt.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(retryable).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Client{
		httpClient: client,
		model:      cfg.Model,
		logger:     logger,
	}
}

// retryable retries server errors. Transport errors are retried by resty
// itself; 4xx answers are final.
func retryable(r *resty.Response, err error) bool {
	return err == nil && r != nil && r.StatusCode() >= http.StatusInternalServerError
}

// Judge implements rules.Judge.
func (c *Client) Judge(ctx context.Context, req rules.JudgeRequest) (rules.JudgeResult, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Instruction:\n%s\n\nText:\n%s", req.Instruction, req.Text)},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	start := time.Now()
	var out chatResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		c.logger.Warn("judge request failed",
			zap.String("subject", req.SubjectKey),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return rules.JudgeResult{}, fmt.Errorf("judge request: %w", err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		c.logger.Warn("judge returned error status",
			zap.String("subject", req.SubjectKey),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", msg))
		return rules.JudgeResult{}, fmt.Errorf("judge status %d: %s", resp.StatusCode(), msg)
	}

	res, err := parseVerdict(out)
	if err != nil {
		c.logger.Warn("judge response malformed",
			zap.String("subject", req.SubjectKey),
			zap.Error(err))
		return rules.JudgeResult{}, err
	}

	c.logger.Debug("judge answered",
		zap.String("subject", req.SubjectKey),
		zap.Bool("verdict", res.Verdict),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func parseVerdict(out chatResponse) (rules.JudgeResult, error) {
	if len(out.Choices) == 0 {
		return rules.JudgeResult{}, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var v verdictPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &v); err != nil {
		return rules.JudgeResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if v.Verdict == nil {
		return rules.JudgeResult{}, fmt.Errorf("%w: missing verdict", ErrMalformedResponse)
	}
	return rules.JudgeResult{Verdict: *v.Verdict, Reasoning: v.Reasoning}, nil
}
