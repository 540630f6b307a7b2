package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/closerbrain/internal/document"
	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/generation"
	"github.com/cloo-solutions/closerbrain/internal/prompts"
	"github.com/cloo-solutions/closerbrain/internal/telemetry"
)

// DefaultMaxSourceChars bounds the text handed to the distiller.
const DefaultMaxSourceChars = 12000

// MaxDocumentChars bounds the document text attached to the extraction call.
const MaxDocumentChars = 120000

// TruncationMarker is appended when full text was cut.
const TruncationMarker = "\n\n[... content truncated for processing ...]"

// ContentExtractor turns a source item into full text with one generation call.
type ContentExtractor struct {
	retrier  *generation.Retrier
	store    ObjectStore
	prompts  *prompts.Catalog
	maxChars int
}

// NewContentExtractor creates a ContentExtractor. store may be nil when only link
// references are ingested.
func NewContentExtractor(retrier *generation.Retrier, store ObjectStore, catalog *prompts.Catalog, maxChars int) *ContentExtractor {
	if maxChars <= 0 {
		maxChars = DefaultMaxSourceChars
	}
	if catalog == nil {
		catalog = prompts.Default()
	}
	return &ContentExtractor{
		retrier:  retrier,
		store:    store,
		prompts:  catalog,
		maxChars: maxChars,
	}
}

// Extract returns the bounded full text of src. Empty model output is replaced by a
// placeholder naming the title so later steps never see an empty string.
func (e *ContentExtractor) Extract(ctx context.Context, src *domain.SourceItem) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "ContentExtractor.Extract", telemetry.SpanAttributes{
		OwnerID:   src.OwnerID,
		SourceID:  src.ID,
		Operation: string(src.Kind),
	})
	defer span.End()

	req, err := e.buildRequest(ctx, src)
	if err != nil {
		span.SetError(err)
		return "", err
	}

	text, err := e.retrier.CallText(ctx, req)
	if err != nil {
		span.SetError(err)
		return "", fmt.Errorf("extract %q: %w", src.Title, err)
	}

	if strings.TrimSpace(text) == "" {
		text = PlaceholderText(src.Title)
	}
	return Truncate(text, e.maxChars), nil
}

func (e *ContentExtractor) buildRequest(ctx context.Context, src *domain.SourceItem) (generation.Request, error) {
	switch src.Kind {
	case domain.SourceKindLink:
		system := e.prompts.Extraction.Link + "\n" + e.prompts.Platform(src.Platform)
		user := fmt.Sprintf("Title: %s\nPlatform: %s\nURL: %s\n\nExtract every sales learning from this content.",
			src.Title, src.Platform, src.OriginURL)
		return generation.Request{Messages: []generation.Message{
			generation.SystemMessage(system),
			generation.UserMessage(generation.TextPart(user)),
		}}, nil

	case domain.SourceKindDocument:
		if e.store == nil {
			return generation.Request{}, domain.ErrStorageNotConfigured
		}
		format, ok := document.Detect(src.MimeType, src.StorageKey)
		if !ok {
			return generation.Request{}, domain.ErrUnsupportedDocument
		}
		user := fmt.Sprintf("Title: %s\n\nRead the attached document from start to finish, then extract every sales learning in it.", src.Title)
		attachment, err := e.attachment(ctx, src, format)
		if err != nil {
			return generation.Request{}, err
		}
		return generation.Request{Messages: []generation.Message{
			generation.SystemMessage(e.prompts.Extraction.Document),
			generation.UserMessage(generation.TextPart(user), attachment),
		}}, nil
	}
	return generation.Request{}, domain.ErrInvalidSourceKind
}

// attachment loads the stored document. Images go to the model by URL, every other
// format as its extracted text.
func (e *ContentExtractor) attachment(ctx context.Context, src *domain.SourceItem, format document.Format) (generation.Part, error) {
	if format == document.FormatImage {
		url, err := e.store.PresignedURL(ctx, src.StorageKey)
		if err != nil {
			return generation.Part{}, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, domain.ErrStorageOperationFail.Message, err)
		}
		return generation.ImagePart(url), nil
	}

	data, err := e.store.Get(ctx, src.StorageKey)
	if err != nil {
		return generation.Part{}, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, domain.ErrStorageOperationFail.Message, err)
	}
	text, err := document.ExtractText(src.MimeType, src.StorageKey, data)
	switch {
	case errors.Is(err, document.ErrNoText):
		return generation.Part{}, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrDocumentEmpty.Message, err)
	case err != nil:
		return generation.Part{}, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrUnsupportedDocument.Message, err)
	}
	return generation.DocumentPart(src.Title, src.MimeType, Truncate(text, MaxDocumentChars)), nil
}

// PlaceholderText stands in for content the model returned nothing for.
func PlaceholderText(title string) string {
	return fmt.Sprintf("Training material titled %q. No text could be extracted, so the title is the only available context.", title)
}

// Truncate cuts text to max runes and appends TruncationMarker when it was cut.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max]) + TruncationMarker
}
