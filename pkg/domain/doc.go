// Package domain defines the shared error taxonomy and wire-level error
// model used across the privacy subsystem and its front ends.
package domain
