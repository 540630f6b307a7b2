package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/closerbrain/internal/generation"
)

const (
	// DefaultChatModel is used when no chat model is configured
	DefaultChatModel = openai.GPT4o
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the expected dimension of embeddings
	DefaultEmbeddingDimensions = 1536
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when no OpenAI API key is configured
	ErrNoAPIKey = errors.New("OpenAI API key is not configured")
)

// ChatAPI is the subset of the go-openai client used for chat completions.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// Client implements generation.Client on top of chat completions and also
// produces chunk embeddings.
type Client struct {
	chat       ChatAPI
	api        EmbeddingAPI
	chatModel  string
	dimensions int
}

var _ generation.Client = (*Client)(nil)

type embeddingAdapter struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *embeddingAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

type Config struct {
	APIKey              string
	BaseURL             string
	ChatModel           string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
}

// NewClient creates a new OpenAI client with explicit configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	api := openai.NewClientWithConfig(oc)

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	return newClient(api, &embeddingAdapter{client: api, model: embeddingModel}, cfg.ChatModel, cfg.EmbeddingDimensions), nil
}

func newClient(chat ChatAPI, embed EmbeddingAPI, chatModel string, dimensions int) *Client {
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{chat: chat, api: embed, chatModel: chatModel, dimensions: dimensions}
}

// Invoke performs one chat completion. Non-2xx responses come back as
// *generation.UpstreamError so the retrier can classify them.
func (c *Client) Invoke(ctx context.Context, req generation.Request) (*generation.Response, error) {
	resp, err := c.chat.CreateChatCompletion(ctx, toChatRequest(c.chatModel, req))
	if err != nil {
		return nil, translateError(err)
	}

	out := &generation.Response{Choices: make([]generation.Choice, 0, len(resp.Choices))}
	for _, ch := range resp.Choices {
		out.Choices = append(out.Choices, generation.Choice{
			Message: generation.ResponseMessage{Content: ch.Message.Content},
		})
	}
	return out, nil
}

// GenerateEmbedding generates an embedding for the given text
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	embedding, err := c.api.CreateEmbeddings(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	if len(embedding) != c.dimensions {
		return nil, ErrWrongDimensions
	}

	return embedding, nil
}

func toChatRequest(model string, req generation.Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}

	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{Role: string(m.Role)}
		if textOnly(m) {
			msg.Content = m.Text()
		} else {
			for _, p := range m.Parts {
				msg.MultiContent = append(msg.MultiContent, toChatPart(p))
			}
		}
		out.Messages = append(out.Messages, msg)
	}

	if req.Schema != nil {
		def := req.Schema.Definition
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: &def,
				Strict: false,
			},
		}
	}
	return out
}

func textOnly(m generation.Message) bool {
	for _, p := range m.Parts {
		if p.Type == generation.PartImage {
			return false
		}
	}
	return true
}

// toChatPart maps a part onto chat completion content. Documents travel as their
// extracted text since chat completions have no document part.
func toChatPart(p generation.Part) openai.ChatMessagePart {
	if p.Type == generation.PartImage {
		return openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: p.URL, Detail: openai.ImageURLDetailAuto},
		}
	}
	return openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Content()}
}

func translateError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &generation.UpstreamError{StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &generation.UpstreamError{StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return err
}
