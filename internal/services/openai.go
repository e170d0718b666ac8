package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/poolsight/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI analyzes photos with an OpenAI-compatible vision chat model, as an alternative to the chat
// webhook. Its replies are plain text.
type OpenAI struct {
	model  string
	prompt string

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance. baseURL may be empty to use the OpenAI API itself.
func NewOpenAI(apiKey, baseURL, model, prompt string, client *http.Client, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if client != nil {
		cfg.HTTPClient = client
	}

	return OpenAI{
		model:  model,
		prompt: prompt,
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "openai")),
	}
}

// Analyze sends the prompt and the photo, inlined as a data URL, and returns the first choice.
func (o OpenAI) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	contentType := req.Image.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(req.Image.Data)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(req.Image.Data))

	chatReq := goopenai.ChatCompletionRequest{
		Model: o.model,
		User:  req.Subject,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role: goopenai.ChatMessageRoleUser,
				MultiContent: []goopenai.ChatMessagePart{
					{
						Type: goopenai.ChatMessagePartTypeText,
						Text: o.prompt,
					},
					{
						Type: goopenai.ChatMessagePartTypeImageURL,
						ImageURL: &goopenai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: goopenai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices found")
	}

	o.logger.Debug("Vision reply",
		slog.String("subject", req.Subject),
		slog.Int("totalTokens", resp.Usage.TotalTokens))

	return resp.Choices[0].Message.Content, nil
}
