package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// SourceKind distinguishes link references from uploaded documents.
type SourceKind string

const (
	SourceKindLink     SourceKind = "link"
	SourceKindDocument SourceKind = "document"
)

// Platform is the content host a link reference points at.
type Platform string

const (
	PlatformYouTube       Platform = "youtube"
	PlatformYouTubeShorts Platform = "youtube_shorts"
	PlatformTikTok        Platform = "tiktok"
	PlatformInstagram     Platform = "instagram"
	PlatformFacebook      Platform = "facebook"
	PlatformLinkedIn      Platform = "linkedin"
	PlatformTwitter       Platform = "twitter"
	PlatformWeb           Platform = "web"
)

// IsShortForm reports whether the platform hosts short vertical video.
func (p Platform) IsShortForm() bool {
	switch p {
	case PlatformTikTok, PlatformInstagram, PlatformYouTubeShorts:
		return true
	}
	return false
}

// DetectPlatform classifies a link reference by host and path.
func DetectPlatform(rawURL string) Platform {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return PlatformWeb
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	switch {
	case host == "youtu.be" || strings.HasSuffix(host, "youtube.com"):
		if strings.HasPrefix(u.Path, "/shorts/") {
			return PlatformYouTubeShorts
		}
		return PlatformYouTube
	case strings.HasSuffix(host, "tiktok.com"):
		return PlatformTikTok
	case strings.HasSuffix(host, "instagram.com"):
		return PlatformInstagram
	case strings.HasSuffix(host, "facebook.com") || host == "fb.watch":
		return PlatformFacebook
	case strings.HasSuffix(host, "linkedin.com"):
		return PlatformLinkedIn
	case host == "x.com" || strings.HasSuffix(host, "twitter.com"):
		return PlatformTwitter
	}
	return PlatformWeb
}

// NotExtracted fills summary fields the model could not produce.
const NotExtracted = "Not extracted"

// SourceSummary is the nine-field structured digest of a source item.
type SourceSummary struct {
	Summary              string
	Psychology           string
	RapportTechniques    string
	ConversationStarters string
	ObjectionFrameworks  string
	ClosingTechniques    string
	LanguagePatterns     string
	EmotionalTriggers    string
	TrustStrategies      string
}

// DegradedSummary is used when the structured summary could not be parsed.
func DegradedSummary(fullText string) SourceSummary {
	return SourceSummary{
		Summary:              truncateRunes(fullText, 500),
		Psychology:           NotExtracted,
		RapportTechniques:    NotExtracted,
		ConversationStarters: NotExtracted,
		ObjectionFrameworks:  NotExtracted,
		ClosingTechniques:    NotExtracted,
		LanguagePatterns:     NotExtracted,
		EmotionalTriggers:    NotExtracted,
		TrustStrategies:      NotExtracted,
	}
}

// IsDegraded reports whether every field besides the overview is a placeholder.
func (s SourceSummary) IsDegraded() bool {
	for _, v := range []string{
		s.Psychology, s.RapportTechniques, s.ConversationStarters, s.ObjectionFrameworks,
		s.ClosingTechniques, s.LanguagePatterns, s.EmotionalTriggers, s.TrustStrategies,
	} {
		if v != NotExtracted {
			return false
		}
	}
	return true
}

// SourceItem is one ingested unit of training material.
type SourceItem struct {
	ID           string
	OwnerID      string
	WorkspaceID  string
	Kind         SourceKind
	Title        string
	OriginURL    string
	StorageKey   string
	MimeType     string
	Platform     Platform
	FullText     string
	Summary      SourceSummary
	Persona      Persona
	Status       SourceStatus
	Progress     int
	ErrorMessage string
	RunID        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// State returns the ingestion checkpoint of the item.
func (s *SourceItem) State() IngestionState {
	return IngestionState{Status: s.Status, Progress: s.Progress}
}

// ValidateSourceItem validates a SourceItem instance
func ValidateSourceItem(s *SourceItem) error {
	if s == nil {
		return fmt.Errorf("source cannot be nil")
	}

	if s.ID == "" {
		return fmt.Errorf("source ID is required")
	}

	if s.OwnerID == "" {
		return fmt.Errorf("source OwnerID is required")
	}

	if s.Title == "" {
		return fmt.Errorf("source Title is required")
	}

	switch s.Kind {
	case SourceKindLink:
		if s.OriginURL == "" {
			return fmt.Errorf("source OriginURL is required for links")
		}
	case SourceKindDocument:
		if s.StorageKey == "" {
			return fmt.Errorf("source StorageKey is required for documents")
		}
	default:
		return NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidSourceKind.Message, fmt.Errorf("%q", s.Kind))
	}

	if !isValidPersona(s.Persona) {
		return NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidPersona.Message, fmt.Errorf("%q", s.Persona))
	}

	if !isValidSourceStatus(s.Status) {
		return fmt.Errorf("source Status is invalid: %s", s.Status)
	}

	return nil
}

// IngestionRun identifies one processing attempt of a source. Every write made by
// the attempt is conditioned on RunID so a newer run cannot be clobbered.
type IngestionRun struct {
	OwnerID  string
	SourceID string
	RunID    string
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
