package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	RunID     ID
	SubjectID ID
)

// String conversions for domain IDs
func (id RunID) String() string     { return ID(id).String() }
func (id SubjectID) String() string { return ID(id).String() }

// NewRunID creates a time-ordered identifier for one generation run
func NewRunID() RunID {
	return RunID(NewID())
}

// ParseSubjectID parses a string into SubjectID
func ParseSubjectID(s string) (SubjectID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("subject ID cannot be empty")
	}
	return SubjectID(s), nil
}

// SequentialSubjectID formats the n-th (1-based) generated subject identifier.
// Generated identifiers are deterministic so tables produced from the same
// request join on identical keys.
func SequentialSubjectID(n int) SubjectID {
	return SubjectID(fmt.Sprintf("SUBJ-%05d", n))
}
