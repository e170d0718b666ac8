package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/poolsight/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama analyzes photos with a vision model served by Ollama, as an alternative to the chat webhook.
// Its replies are plain text.
type Ollama struct {
	model  string
	prompt string

	client *api.Client
}

// NewOllama creates a new Ollama instance with the specified host URL, model name and the prompt sent
// along with every photo. If the provided host URL is invalid, the function will panic.
func NewOllama(host, model, prompt string, client *http.Client) Ollama {
	u, err := url.Parse(host)
	if err != nil {
		panic(err)
	}
	if client == nil {
		client = &http.Client{}
	}

	return Ollama{
		model:  model,
		prompt: prompt,
		client: api.NewClient(u, client),
	}
}

// Analyze sends the photo with the configured prompt and returns the model's whole reply.
func (o Ollama) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	f := false
	chatReq := api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{
				Role:    string(models.RoleUser),
				Content: o.prompt,
				Images:  []api.ImageData{req.Image.Data},
			},
		},
		Stream: &f,
	}

	var sb strings.Builder
	if err := o.client.Chat(ctx, &chatReq, func(res api.ChatResponse) error {
		sb.WriteString(res.Message.Content)
		return nil
	}); err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	return sb.String(), nil
}
