package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhook-gateway/core"
)

const KindCompletion = "completion"

const defaultCompletionModel = "gpt-3.5-turbo"

// CompletionAdapter calls an OpenAI-compatible chat completions endpoint with
// a single user message and returns the first choice.
type CompletionAdapter struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	REST    *RESTAdapter
}

func NewCompletionAdapter(cfg core.CompletionConfig, client HTTPDoer) *CompletionAdapter {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultCompletionModel
	}
	return &CompletionAdapter{
		BaseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		Model:   model,
		Timeout: cfg.Timeout,
		REST:    NewRESTAdapter(client).WithBearerToken(cfg.APIKey),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (a *CompletionAdapter) Complete(ctx context.Context, prompt string) (string, error) {
	if a == nil || a.REST == nil {
		return "", transportError(
			"transport: completion adapter requires a rest adapter",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"adapter": KindCompletion},
		)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", transportError(
			"transport: completion prompt is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"adapter": KindCompletion},
		)
	}
	body, err := json.Marshal(chatRequest{
		Model:    a.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", transportWrapError(err, goerrors.CategoryBadInput, "transport: marshal completion request",
			http.StatusBadRequest, map[string]any{"adapter": KindCompletion})
	}

	endpoint := a.BaseURL + "/chat/completions"
	response, err := a.REST.Do(ctx, Request{
		Method:  http.MethodPost,
		URL:     endpoint,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
		Timeout: a.Timeout,
	})
	if err != nil {
		return "", transportWrapError(err, goerrors.CategoryExternal, "transport: completion request failed",
			http.StatusBadGateway, map[string]any{"adapter": KindCompletion, "model": a.Model})
	}

	var decoded chatResponse
	decodeErr := json.Unmarshal(response.Body, &decoded)
	if !response.OK() {
		metadata := map[string]any{"model": a.Model}
		if decodeErr == nil && decoded.Error != nil {
			metadata["upstream_error"] = decoded.Error.Message
		}
		return "", statusError(KindCompletion, response, metadata)
	}
	if decodeErr != nil {
		return "", transportWrapError(decodeErr, goerrors.CategoryExternal, "transport: decode completion response",
			http.StatusBadGateway, map[string]any{"adapter": KindCompletion, "model": a.Model})
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", transportError("transport: completion response has no choices",
			goerrors.CategoryExternal, http.StatusBadGateway, map[string]any{"adapter": KindCompletion, "model": a.Model})
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

var _ core.CompletionClient = (*CompletionAdapter)(nil)
