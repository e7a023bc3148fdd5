// Package governance bounds calls into detection and classification
// backends: deadlines around inference and retry with exponential backoff
// for transient failures.
package governance
