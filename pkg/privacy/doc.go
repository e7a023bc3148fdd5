// Package privacy orchestrates PII detection and content filtering under a
// configured compliance level, producing a pass/fail verdict and recording
// every decision in the audit log.
//
// The subsystem is synchronous and imposes no threading model of its own;
// all components are safe for concurrent use once constructed, and the
// audit log serializes its appends internally.
package privacy
