package types

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type AILanguageStatus string

const (
	AILanguagePending  AILanguageStatus = "pending"
	AILanguageComplete AILanguageStatus = "complete"
	AILanguageFailed   AILanguageStatus = "failed"
)

// AIState is the decoded form of AnalysisRecord.AI: one report per language
// plus record-wide fields written exactly once by the first successful
// generation.
type AIState struct {
	Model           string                 `json:"model,omitempty"`
	MetricsSnapshot map[string]any         `json:"metricsSnapshot,omitempty"`
	Languages       map[string]*AILanguage `json:"languages,omitempty"`
}

type AILanguage struct {
	Status      AILanguageStatus `json:"status"`
	Text        string           `json:"text,omitempty"`
	GeneratedAt *time.Time       `json:"generatedAt,omitempty"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	LastError   string           `json:"lastError,omitempty"`
}

// DecodeAIState is nil-safe: a missing or empty column decodes to an empty
// state, never an error.
func DecodeAIState(raw datatypes.JSON) (*AIState, error) {
	state := &AIState{}
	if len(raw) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *AIState) Encode() (datatypes.JSON, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// Language returns the per-language slot, allocating it (and the map) on
// first use.
func (s *AIState) Language(tag string) *AILanguage {
	if s.Languages == nil {
		s.Languages = make(map[string]*AILanguage)
	}
	ls, ok := s.Languages[tag]
	if !ok {
		ls = &AILanguage{}
		s.Languages[tag] = ls
	}
	return ls
}
