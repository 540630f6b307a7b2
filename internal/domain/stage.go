package domain

import (
	"strings"
	"unicode"
)

// Stage is a position in the sales conversation pipeline. The classifier may move a
// prospect backwards as well as forwards.
type Stage string

const (
	StageFirstContact        Stage = "first_contact"
	StageWarmRapport         Stage = "warm_rapport"
	StagePainDiscovery       Stage = "pain_discovery"
	StageObjectionResistance Stage = "objection_resistance"
	StageTrustReinforcement  Stage = "trust_reinforcement"
	StageReferralToExpert    Stage = "referral_to_expert"
	StageExpertClose         Stage = "expert_close"
	// StageGeneral is the unclassified label.
	StageGeneral Stage = "general"
)

// PipelineStages lists the seven ordered stages.
var PipelineStages = []Stage{
	StageFirstContact,
	StageWarmRapport,
	StagePainDiscovery,
	StageObjectionResistance,
	StageTrustReinforcement,
	StageReferralToExpert,
	StageExpertClose,
}

// StageNames returns the pipeline stage values as plain strings.
func StageNames() []string {
	names := make([]string, len(PipelineStages))
	for i, s := range PipelineStages {
		names[i] = string(s)
	}
	return names
}

// IsPipelineStage reports whether s is one of the seven ordered stages.
func (s Stage) IsPipelineStage() bool {
	for _, known := range PipelineStages {
		if s == known {
			return true
		}
	}
	return false
}

// NormalizeStage maps free-text classifier output onto a Stage. Output that names
// exactly one pipeline stage, alone or inside a sentence, maps to that stage. Anything
// else becomes StageGeneral.
func NormalizeStage(raw string) Stage {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToLower(r)
		}
		return '_'
	}, raw)

	for strings.Contains(cleaned, "__") {
		cleaned = strings.ReplaceAll(cleaned, "__", "_")
	}
	cleaned = "_" + strings.Trim(cleaned, "_") + "_"

	found := StageGeneral
	for _, known := range PipelineStages {
		if !strings.Contains(cleaned, "_"+string(known)+"_") {
			continue
		}
		if found != StageGeneral {
			return StageGeneral
		}
		found = known
	}
	return found
}
