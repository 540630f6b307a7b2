package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/generation"
	"github.com/cloo-solutions/closerbrain/internal/prompts"
	"github.com/cloo-solutions/closerbrain/internal/telemetry"
)

// maxHistoryMessages bounds the transcript shown to the classifier.
const maxHistoryMessages = 20

// StageClassifier labels the pipeline stage of a conversation.
type StageClassifier struct {
	retrier *generation.Retrier
	prompts *prompts.Catalog
}

func NewStageClassifier(retrier *generation.Retrier, catalog *prompts.Catalog) *StageClassifier {
	if catalog == nil {
		catalog = prompts.Default()
	}
	return &StageClassifier{retrier: retrier, prompts: catalog}
}

// Classify returns the stage of the conversation after newMessage. Output that names
// no known stage becomes domain.StageGeneral.
func (c *StageClassifier) Classify(ctx context.Context, history []*domain.Message, newMessage string) (domain.Stage, error) {
	ctx, span := telemetry.StartSpan(ctx, "StageClassifier.Classify", telemetry.SpanAttributes{
		Operation: "classify",
	})
	defer span.End()

	req := generation.Request{
		Messages: []generation.Message{
			generation.SystemMessage(c.prompts.Stage),
			generation.UserMessage(generation.TextPart(
				"Conversation so far:\n" + Transcript(history, maxHistoryMessages) +
					"\n\nNew message from the prospect:\n" + newMessage,
			)),
		},
	}

	text, err := c.retrier.CallText(ctx, req)
	if err != nil {
		span.SetError(err)
		return domain.StageGeneral, err
	}
	return domain.NormalizeStage(text), nil
}

// Transcript renders the last max messages as speaker-tagged lines, oldest first.
// max <= 0 keeps every message.
func Transcript(messages []*domain.Message, max int) string {
	if max > 0 && len(messages) > max {
		messages = messages[len(messages)-max:]
	}
	if len(messages) == 0 {
		return "(no earlier messages)"
	}
	var b strings.Builder
	for _, m := range messages {
		speaker := "Prospect"
		if m.Direction == domain.DirectionOutbound {
			speaker = "Me (" + string(m.Persona) + ")"
		}
		content := m.Content
		if content == "" && m.ScreenshotURL != "" {
			content = "[screenshot]"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, content)
	}
	return strings.TrimRight(b.String(), "\n")
}
