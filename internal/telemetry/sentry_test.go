package telemetry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/closerbrain/internal/domain"
)

func TestInit_NoDSNIsNoop(t *testing.T) {
	shutdown, err := Init(Config{}, nil)
	require.NoError(t, err)
	shutdown()
}

func TestStartSpan_NestsUnderParent(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "IngestionService.Process", SpanAttributes{
		OwnerID:  "owner1",
		SourceID: "s1",
	})
	defer root.End()

	_, child := StartSpan(ctx, "KnowledgeDistiller.Summarize", SpanAttributes{Operation: "summary"})
	defer child.End()

	require.NotNil(t, child.inner)
	assert.Equal(t, root.inner.SpanID, child.inner.ParentSpanID)
	assert.Equal(t, "owner1", root.inner.Tags["owner_id"])
	assert.Equal(t, "s1", root.inner.Tags["source_id"])

	child.SetError(errors.New("boom"))
	assert.Equal(t, sentry.SpanStatusInternalError, child.inner.Status)
}

func TestSpan_SetErrorClassifiesStatus(t *testing.T) {
	_, span := StartSpan(context.Background(), "op", SpanAttributes{})
	defer span.End()

	span.SetError(fmt.Errorf("request: %w", context.Canceled))
	assert.Equal(t, sentry.SpanStatusCanceled, span.inner.Status)

	span.SetError(domain.ErrProspectNotFound)
	assert.Equal(t, sentry.SpanStatusInvalidArgument, span.inner.Status)
}

func TestSpan_NilSafe(t *testing.T) {
	var s Span
	s.End()
	s.SetError(errors.New("ignored"))

	CaptureError(context.Background(), errors.New("no client configured"))
	AddBreadcrumb(context.Background(), "ingestion", "chunking")
}

func TestReportable(t *testing.T) {
	assert.False(t, Reportable(nil))
	assert.False(t, Reportable(context.Canceled))
	assert.False(t, Reportable(domain.ErrSourceNotFound))
	assert.False(t, Reportable(domain.ErrInvalidPersona))
	assert.True(t, Reportable(errors.New("connection reset")))
	assert.True(t, Reportable(domain.NewDomainError(domain.ErrCodeInternalError, "storage failed")))
	assert.True(t, Reportable(domain.NewDomainError(domain.ErrCodeUnavailable, "down")))
}

func TestSampler(t *testing.T) {
	sample := sampler(0.25)

	health := &sentry.Span{Name: "GET /health"}
	assert.Zero(t, sample(sentry.SamplingContext{Span: health}))

	root := &sentry.Span{Name: "POST /sources"}
	assert.Equal(t, 0.25, sample(sentry.SamplingContext{Span: root}))

	child := &sentry.Span{Name: "child", ParentSpanID: sentry.SpanID{1}, Sampled: sentry.SampledTrue}
	assert.Equal(t, 1.0, sample(sentry.SamplingContext{Span: child}))
}

func TestScrubEvent(t *testing.T) {
	event := &sentry.Event{Request: &sentry.Request{
		Data:    `{"content":"private conversation"}`,
		Cookies: "session=abc",
		Headers: map[string]string{"Cookie": "session=abc", "X-Owner-ID": "owner1"},
	}}

	out := scrubEvent(event, nil)

	assert.Empty(t, out.Request.Data)
	assert.Empty(t, out.Request.Cookies)
	assert.NotContains(t, out.Request.Headers, "Cookie")
	assert.Equal(t, "owner1", out.Request.Headers["X-Owner-ID"])
	assert.Nil(t, scrubEvent(nil, nil))
}
