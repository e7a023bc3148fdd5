// Package telemetry wires OpenTelemetry exporters and meters for the
// llm2slm privacy subsystem.
//
// It centralises trace provider setup and offers recording helpers that
// attach privacy level, outcome, and detector metadata to metrics so
// operators can correlate validation decisions with pipeline behaviour.
package telemetry
