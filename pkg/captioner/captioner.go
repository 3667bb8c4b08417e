// Package captioner talks to the vision model that describes images.
package captioner

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/imalyk/go-mood-tagger/pkg/imagedata"
)

const (
	// Instruction is the fixed prompt sent with every image.
	Instruction = "Describe this image and its mood in detail."
	// DefaultMaxTokens keeps per-job generation latency short.
	DefaultMaxTokens = 50
	DefaultModel     = "HuggingFaceTB/SmolVLM-256M-Instruct"

	jpegQuality = 90
)

var (
	ErrNoChoices      = errors.New("captioner returned no choices")
	ErrModelNotServed = errors.New("captioner model is not served")
)

// Captioner produces a natural-language description of an image.
type Captioner interface {
	Caption(ctx context.Context, img image.Image, instruction string, maxTokens int) (string, error)
	Ready(ctx context.Context) error
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// OpenAI captions images through an OpenAI-compatible chat completions API,
// such as vLLM or llama.cpp serving a small vision-language model.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(cfg Config) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), model: model}
}

// Caption sends img as a JPEG data URI with greedy single-choice decoding.
func (c *OpenAI) Caption(ctx context.Context, img image.Image, instruction string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	raw, err := imagedata.EncodeJPEG(img, jpegQuality)
	if err != nil {
		return "", err
	}
	dataURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		// A zero temperature is dropped by omitempty; the smallest float
		// keeps decoding greedy on servers that default to sampling.
		Temperature: math.SmallestNonzeroFloat32,
		N:           1,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURI, Detail: openai.ImageURLDetailAuto},
					},
					{Type: openai.ChatMessagePartTypeText, Text: instruction},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// Ready checks that the inference server answers and serves the configured model.
func (c *OpenAI) Ready(ctx context.Context) error {
	models, err := c.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models.Models {
		if m.ID == c.model {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrModelNotServed, c.model)
}
