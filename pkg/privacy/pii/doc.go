// Package pii implements detection and anonymization of personally
// identifiable information. Two detection backends satisfy the same
// contract: an ONNX-backed entity recognizer and a pattern-backed regex
// recognizer. The Anonymizer maps detected spans to transformed text
// according to the configured method.
package pii
