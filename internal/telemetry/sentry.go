// Package telemetry wraps Sentry tracing and error capture for the service layer.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/logger"
)

const (
	serviceName  = "closerbrain"
	flushTimeout = 5 * time.Second
)

// Config holds the configuration for Sentry initialization.
type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init configures the global Sentry client and returns a flush function.
// Without a DSN, or when the client cannot be built, everything stays a no-op.
func Init(cfg Config, log *logger.Logger) (func(), error) {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate <= 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		TracesSampler:    sampler(cfg.TracesSampleRate),
		BeforeSend:       scrubEvent,
		Debug:            cfg.Debug,
		ServerName:       serviceName,
	})
	if err != nil {
		log.Warn("sentry: failed to initialize, continuing without tracing", "error", err)
		return func() {}, nil
	}

	log.Info("sentry: tracing initialized", "environment", cfg.Environment, "sample_rate", cfg.TracesSampleRate)
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampler drops health probes and keeps child spans with their parent's decision.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		if ctx.Span == nil {
			return rate
		}
		if ctx.Span.Name == "GET /health" {
			return 0
		}
		var root sentry.SpanID
		if ctx.Span.ParentSpanID != root {
			if ctx.Span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

// scrubEvent strips request bodies and cookies. Bodies carry prospect conversations
// and uploaded training material.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil || event.Request == nil {
		return event
	}
	event.Request.Data = ""
	event.Request.Cookies = ""
	delete(event.Request.Headers, "Cookie")
	delete(event.Request.Headers, "Authorization")
	return event
}

// SpanAttributes tags a service span.
type SpanAttributes struct {
	OwnerID    string
	SourceID   string
	ProspectID string
	Operation  string
}

// Span is a nil-safe handle on a Sentry span.
type Span struct {
	inner *sentry.Span
}

func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetError marks the span failed and reports err when it is worth an alert.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		s.inner.Status = sentry.SpanStatusCanceled
		return
	}
	if !Reportable(err) {
		s.inner.Status = sentry.SpanStatusInvalidArgument
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	if hub := sentry.GetHubFromContext(s.inner.Context()); hub != nil {
		hub.CaptureException(err)
	}
}

func (a SpanAttributes) apply(span *sentry.Span) {
	if a.OwnerID != "" {
		span.SetTag("owner_id", a.OwnerID)
	}
	if a.SourceID != "" {
		span.SetTag("source_id", a.SourceID)
	}
	if a.ProspectID != "" {
		span.SetTag("prospect_id", a.ProspectID)
	}
	if a.Operation != "" {
		span.SetData("operation", a.Operation)
	}
}

// StartSpan opens a child of the span in ctx, or a new transaction when there is none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}
	attrs.apply(span)
	return span.Context(), &Span{inner: span}
}

// Reportable reports whether err indicates a server-side fault rather than a bad
// request, a missing record or a caller that went away.
func Reportable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return true
	}
	switch domainErr.Code {
	case domain.ErrCodeInternalError, domain.ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// CaptureError reports err on the hub in ctx when it is Reportable.
func CaptureError(ctx context.Context, err error) {
	if !Reportable(err) {
		return
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// AddBreadcrumb records a step on the current scope.
func AddBreadcrumb(ctx context.Context, category, message string) {
	breadcrumb := &sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.AddBreadcrumb(breadcrumb, nil)
		return
	}
	sentry.AddBreadcrumb(breadcrumb)
}
