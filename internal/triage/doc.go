// Package triage turns free-text symptom descriptions into a structured
// routing suggestion. It defines the Engine (classification, severity rules
// and answer retrieval composed into one Result), the Service (record ids,
// caching, persistence, notification), the Store interface, and domain models.
package triage
