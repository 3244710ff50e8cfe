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
	RunID      ID
	ScenarioID ID
)

// NewRunID creates a time-ordered run identifier.
func NewRunID() RunID { return RunID(NewID()) }

// String conversions for domain IDs
func (id RunID) String() string      { return ID(id).String() }
func (id ScenarioID) String() string { return ID(id).String() }

// ParseRunID parses a string into RunID
func ParseRunID(s string) (RunID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	return RunID(s), nil
}

// ParseScenarioID parses a string into ScenarioID. Scenario IDs are author-chosen
// and must not contain whitespace so that reports stay line-oriented.
func ParseScenarioID(s string) (ScenarioID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("scenario ID cannot be empty")
	}
	if strings.ContainsAny(s, " \t\n\r") {
		return "", fmt.Errorf("scenario ID %q contains whitespace", s)
	}
	return ScenarioID(s), nil
}
