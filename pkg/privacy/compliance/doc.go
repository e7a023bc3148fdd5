// Package compliance evaluates Rego policies over privacy validation
// outcomes, letting operators express organisation rules (which levels may
// pass with PII present, which violation categories are tolerable per
// source) without changing code.
package compliance
