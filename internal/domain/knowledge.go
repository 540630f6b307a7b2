package domain

import (
	"fmt"
	"time"
)

// Persona selects which behavioral voice a piece of knowledge or a reply belongs to.
type Persona string

const (
	// PersonaSetter is the warm, peer-relatable voice used to open and nurture conversations.
	PersonaSetter Persona = "setter"
	// PersonaCloser is the direct, authoritative voice used once the prospect is referred on.
	PersonaCloser Persona = "closer"
	// PersonaBoth scopes knowledge to either voice.
	PersonaBoth Persona = "both"
)

// ParsePersona validates a raw persona value.
func ParsePersona(raw string) (Persona, error) {
	p := Persona(raw)
	if !isValidPersona(p) {
		return "", NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidPersona.Message, fmt.Errorf("%q", raw))
	}
	return p, nil
}

// IsConversational reports whether the persona can author replies (both is a scope only).
func (p Persona) IsConversational() bool {
	return p == PersonaSetter || p == PersonaCloser
}

// Category is one of the ten fixed knowledge categories.
type Category string

const (
	CategoryOpeningLines      Category = "opening_lines"
	CategoryRapportBuilding   Category = "rapport_building"
	CategoryPainDiscovery     Category = "pain_discovery"
	CategoryObjectionHandling Category = "objection_handling"
	CategoryTrustBuilding     Category = "trust_building"
	CategoryClosingTechniques Category = "closing_techniques"
	CategoryPsychologyInsight Category = "psychology_insight"
	CategoryLanguagePattern   Category = "language_pattern"
	CategoryEmotionalTrigger  Category = "emotional_trigger"
	CategoryGeneralWisdom     Category = "general_wisdom"
)

// AllCategories lists every valid category in display order.
var AllCategories = []Category{
	CategoryOpeningLines,
	CategoryRapportBuilding,
	CategoryPainDiscovery,
	CategoryObjectionHandling,
	CategoryTrustBuilding,
	CategoryClosingTechniques,
	CategoryPsychologyInsight,
	CategoryLanguagePattern,
	CategoryEmotionalTrigger,
	CategoryGeneralWisdom,
}

// CategoryNames returns the category values as plain strings (for schema enums).
func CategoryNames() []string {
	names := make([]string, len(AllCategories))
	for i, c := range AllCategories {
		names[i] = string(c)
	}
	return names
}

// ParseCategory validates a raw category value.
func ParseCategory(raw string) (Category, error) {
	c := Category(raw)
	if !isValidCategory(c) {
		return "", NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidCategory.Message, fmt.Errorf("%q", raw))
	}
	return c, nil
}

const (
	// DefaultRelevanceScore is assigned to chunks distilled from source material.
	DefaultRelevanceScore = 50
	// ConversationRelevanceScore is assigned to chunks learned from a successful conversation.
	ConversationRelevanceScore = 80
	// ConversationSourceID marks a chunk that was derived from a conversation rather than a source item.
	ConversationSourceID = "conversation"
)

// KnowledgeChunk is one independently retrievable unit of sales advice.
type KnowledgeChunk struct {
	ID             string
	OwnerID        string
	SourceID       string
	Category       Category
	Content        string
	TriggerPhrases []string
	UsageExample   string
	RelevanceScore int
	Persona        Persona
	Embedding      []float32
	CreatedAt      time.Time
}

// FromConversation reports whether the chunk was learned from a conversation.
func (c *KnowledgeChunk) FromConversation() bool {
	return c.SourceID == ConversationSourceID
}

// ChunkQuery scopes a knowledge lookup.
type ChunkQuery struct {
	OwnerID    string
	Personas   []Persona
	Categories []Category
	Embedding  []float32
	Limit      int
}

// ValidateKnowledgeChunk validates a KnowledgeChunk instance
func ValidateKnowledgeChunk(c *KnowledgeChunk) error {
	if c == nil {
		return fmt.Errorf("knowledge chunk cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("knowledge chunk ID is required")
	}

	if c.OwnerID == "" {
		return fmt.Errorf("knowledge chunk OwnerID is required")
	}

	if c.SourceID == "" {
		return fmt.Errorf("knowledge chunk SourceID is required")
	}

	if c.Content == "" {
		return fmt.Errorf("knowledge chunk Content is required")
	}

	if !isValidCategory(c.Category) {
		return NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidCategory.Message, fmt.Errorf("%q", c.Category))
	}

	if !isValidPersona(c.Persona) {
		return NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidPersona.Message, fmt.Errorf("%q", c.Persona))
	}

	if c.RelevanceScore < 0 || c.RelevanceScore > 100 {
		return fmt.Errorf("knowledge chunk RelevanceScore must be within 0..100, got %d", c.RelevanceScore)
	}

	return nil
}

func isValidCategory(c Category) bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

func isValidPersona(p Persona) bool {
	switch p {
	case PersonaSetter, PersonaCloser, PersonaBoth:
		return true
	}
	return false
}
