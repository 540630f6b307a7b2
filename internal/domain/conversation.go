package domain

import (
	"fmt"
	"time"
)

// Outcome is the commercial result of a prospect conversation.
type Outcome string

const (
	OutcomeOpen    Outcome = "open"
	OutcomeBooked  Outcome = "booked"
	OutcomeWon     Outcome = "won"
	OutcomeLost    Outcome = "lost"
	OutcomeGhosted Outcome = "ghosted"
)

// ParseOutcome validates a raw outcome value.
func ParseOutcome(raw string) (Outcome, error) {
	o := Outcome(raw)
	switch o {
	case OutcomeOpen, OutcomeBooked, OutcomeWon, OutcomeLost, OutcomeGhosted:
		return o, nil
	}
	return "", NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidOutcome.Message, fmt.Errorf("%q", raw))
}

// IsSuccess reports whether the outcome should feed continuous learning.
func (o Outcome) IsSuccess() bool {
	return o == OutcomeBooked || o == OutcomeWon
}

// Prospect is a person the owner is messaging. CurrentStage is the authoritative stage.
type Prospect struct {
	ID           string
	OwnerID      string
	WorkspaceID  string
	Name         string
	Platform     string
	Notes        string
	CurrentStage Stage
	Outcome      Outcome
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewProspect creates a new Prospect at first contact
func NewProspect(id, ownerID, name string, createdAt time.Time) *Prospect {
	return &Prospect{
		ID:           id,
		OwnerID:      ownerID,
		Name:         name,
		CurrentStage: StageFirstContact,
		Outcome:      OutcomeOpen,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

// ValidateProspect validates a Prospect instance
func ValidateProspect(p *Prospect) error {
	if p == nil {
		return fmt.Errorf("prospect cannot be nil")
	}

	if p.ID == "" {
		return fmt.Errorf("prospect ID is required")
	}

	if p.OwnerID == "" {
		return fmt.Errorf("prospect OwnerID is required")
	}

	if p.Name == "" {
		return fmt.Errorf("prospect Name is required")
	}

	if !p.CurrentStage.IsPipelineStage() {
		return fmt.Errorf("prospect CurrentStage is invalid: %s", p.CurrentStage)
	}

	if _, err := ParseOutcome(string(p.Outcome)); err != nil {
		return err
	}

	return nil
}

// Direction tells whether a message came from the prospect or was sent by the owner.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Analysis is the stage annotation recorded on an inbound message. It is written once
// with the message and never updated afterwards.
type Analysis struct {
	Stage        Stage
	Tone         string
	Reasoning    string
	PushyWarning *string
}

// Message is one entry in a persona thread of a prospect conversation.
type Message struct {
	ID            string
	OwnerID       string
	ProspectID    string
	Persona       Persona
	Direction     Direction
	Content       string
	ScreenshotURL string
	Analysis      *Analysis
	CreatedAt     time.Time
}

// ValidateMessage validates a Message instance
func ValidateMessage(m *Message) error {
	if m == nil {
		return fmt.Errorf("message cannot be nil")
	}

	if m.ID == "" || m.OwnerID == "" || m.ProspectID == "" {
		return fmt.Errorf("message ID, OwnerID and ProspectID are required")
	}

	if !m.Persona.IsConversational() {
		return NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidPersona.Message, fmt.Errorf("%q", m.Persona))
	}

	if m.Direction != DirectionInbound && m.Direction != DirectionOutbound {
		return fmt.Errorf("message Direction is invalid: %s", m.Direction)
	}

	if m.Content == "" && m.ScreenshotURL == "" {
		return fmt.Errorf("message needs Content or a screenshot")
	}

	return nil
}

// SuggestionType names the three reply variants produced per inbound message.
type SuggestionType string

const (
	SuggestionPrimary     SuggestionType = "primary"
	SuggestionAlternative SuggestionType = "alternative"
	SuggestionSoft        SuggestionType = "soft"
)

// Feedback is the owner's rating of a suggestion.
type Feedback string

const (
	FeedbackNone     Feedback = "none"
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
)

// ParseFeedback validates a raw feedback value.
func ParseFeedback(raw string) (Feedback, error) {
	f := Feedback(raw)
	switch f {
	case FeedbackNone, FeedbackPositive, FeedbackNegative:
		return f, nil
	}
	return "", NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidFeedback.Message, fmt.Errorf("%q", raw))
}

// Suggestion is one candidate reply linked to an inbound message.
type Suggestion struct {
	ID           string
	OwnerID      string
	MessageID    string
	ProspectID   string
	Persona      Persona
	Type         SuggestionType
	Text         string
	WhyThisWorks string
	Used         bool
	UsedAt       *time.Time
	Feedback     Feedback
	CreatedAt    time.Time
}

// Workspace carries the business context replies are written for.
type Workspace struct {
	ID             string
	OwnerID        string
	Name           string
	Offer          string
	TargetAudience string
	BrandVoice     string
	CreatedAt      time.Time
}

// ValidateWorkspace validates a Workspace instance
func ValidateWorkspace(w *Workspace) error {
	if w == nil {
		return fmt.Errorf("workspace cannot be nil")
	}

	if w.ID == "" {
		return fmt.Errorf("workspace ID is required")
	}

	if w.OwnerID == "" {
		return fmt.Errorf("workspace OwnerID is required")
	}

	if w.Name == "" {
		return fmt.Errorf("workspace Name is required")
	}

	return nil
}
