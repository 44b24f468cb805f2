// Package id generates identifiers for jobs whose caller did not supply
// one. IDs are TypeIDs (prefix-qualified, K-sortable, UUIDv7-based,
// URL-safe) in the format "job_01h2xcejqtf2nbrexx3vqjhp41".
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// jobPrefix qualifies generated job identifiers.
const jobPrefix = "job"

// NewJobID generates a globally unique job identifier.
func NewJobID() string {
	tid, err := typeid.Generate(jobPrefix)
	if err != nil {
		// The prefix is a compile-time constant; failure is a programming error.
		panic(fmt.Sprintf("id: generate job id: %v", err))
	}
	return tid.String()
}

// ValidJobID reports whether s parses as a TypeID with the job prefix.
// Caller-supplied ids are free-form strings and need not satisfy this;
// it exists so stores and tests can recognize generated ids.
func ValidJobID(s string) bool {
	tid, err := typeid.Parse(s)
	if err != nil {
		return false
	}
	return tid.Prefix() == jobPrefix
}
