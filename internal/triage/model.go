package triage

import "time"

// Severity is the coarse triage tier.
type Severity string

const (
	// SeverityLow is part of the result schema but is never produced by the current rule set.
	SeverityLow Severity = "low"

	// SeverityMedium is the default tier.
	SeverityMedium Severity = "medium"

	// SeverityHigh means a high-severity phrase matched; always urgent.
	SeverityHigh Severity = "high"
)

// ConfidenceSource records how the classifier confidence was derived.
type ConfidenceSource string

const (
	ConfidenceProbability   ConfidenceSource = "probability"
	ConfidenceDecisionScore ConfidenceSource = "decision_score"
	ConfidenceDefault       ConfidenceSource = "default"
)

// AnswerStatus tags the outcome of answer retrieval.
type AnswerStatus string

const (
	AnswerMatched  AnswerStatus = "matched"
	AnswerNoMatch  AnswerStatus = "no_match"
	AnswerDegraded AnswerStatus = "degraded"
)

// Disclaimer is attached to every result.
const Disclaimer = "This is not a medical diagnosis. Always consult a real doctor."

// Turn is one prior conversation entry.
type Turn struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Query is the input to a triage run. History is accepted for forward
// compatibility and does not influence scoring.
type Query struct {
	Symptoms string `json:"symptoms"`
	History  []Turn `json:"history,omitempty"`
}

// Result is the outcome of a triage run. It carries no identity or
// timestamps, so identical inputs produce identical results.
type Result struct {
	Specialty        string           `json:"specialty"`
	SeverityLevel    Severity         `json:"severity_level"`
	Urgent           bool             `json:"urgent"`
	Explanation      string           `json:"explanation"`
	Confidence       float64          `json:"confidence"`
	Answer           string           `json:"answer"`
	AnswerConfidence float64          `json:"answer_confidence"`
	Disclaimer       string           `json:"disclaimer"`
	ModelLabel       string           `json:"model_label"`
	ConfidenceSource ConfidenceSource `json:"confidence_source"`
	AnswerStatus     AnswerStatus     `json:"answer_status"`
}

// Record is a persisted triage submission.
type Record struct {
	ID        string    `json:"id"`
	Symptoms  string    `json:"symptoms"`
	Result    Result    `json:"result"`
	Cached    bool      `json:"cached,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Duration  float64   `json:"duration_seconds"`
}
