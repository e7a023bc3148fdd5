// Package filter implements semantic content filtering. A classification
// backend scores text against a closed set of harm categories; the Filter
// compares scores to configured thresholds, applies the custom blocklist,
// and decides pass/fail plus the output text per the configured action.
package filter
