// Package generation is the boundary to the text generation service: a provider
// neutral request/response contract, a retrying coordinator and structured output parsing.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// Role tags a message in a generation request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType distinguishes message content parts.
type PartType string

const (
	PartText     PartType = "text"
	PartImage    PartType = "image"
	PartDocument PartType = "document"
)

// Part is one piece of message content. URL is set for image parts. Document parts
// carry the full extracted text of an attached document in Text.
type Part struct {
	Type     PartType
	Text     string
	URL      string
	Name     string
	MimeType string
}

// Content is the text the model reads for the part. Images have none.
func (p Part) Content() string {
	switch p.Type {
	case PartText:
		return p.Text
	case PartDocument:
		return fmt.Sprintf("<document name=%q type=%q>\n%s\n</document>", p.Name, p.MimeType, p.Text)
	}
	return ""
}

// Message is one role-tagged entry of the conversation sent to the model.
type Message struct {
	Role  Role
	Parts []Part
}

// Text returns the concatenated text and document parts of the message.
func (m Message) Text() string {
	var out strings.Builder
	for _, p := range m.Parts {
		out.WriteString(p.Content())
	}
	return out.String()
}

// SystemMessage builds a plain-text system message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{TextPart(text)}}
}

// UserMessage builds a user message from the given parts.
func UserMessage(parts ...Part) Message {
	return Message{Role: RoleUser, Parts: parts}
}

func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func ImagePart(url string) Part {
	return Part{Type: PartImage, URL: url}
}

// DocumentPart attaches the extracted text of a document.
func DocumentPart(name, mimeType, text string) Part {
	return Part{Type: PartDocument, Name: name, MimeType: mimeType, Text: text}
}

// Schema constrains the response to a JSON document. Keys listed in Nullable may be
// present with a null value; every other required key must carry a value.
type Schema struct {
	Name       string
	Definition jsonschema.Definition
	Nullable   []string
}

func (s *Schema) isNullable(key string) bool {
	for _, k := range s.Nullable {
		if k == key {
			return true
		}
	}
	return false
}

// Request is one generation call.
type Request struct {
	Messages []Message
	Schema   *Schema
}

// Response mirrors {choices:[{message:{content}}]}.
type Response struct {
	Choices []Choice
}

type Choice struct {
	Message ResponseMessage
}

type ResponseMessage struct {
	Content string
}

// Content returns the first choice's content. Callers go through the Retrier, which
// guarantees at least one choice.
func (r *Response) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Client performs a single generation call. Implementations must return an error on
// connection failure or a non-2xx response.
type Client interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

func (f ClientFunc) Invoke(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
