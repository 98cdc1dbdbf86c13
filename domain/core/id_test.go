package core

import (
	"errors"
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique IDs, got %d", numIDs, len(ids))
	}
}

// TestSequentialSubjectID tests generated subject identifiers are stable and ordered
func TestSequentialSubjectID(t *testing.T) {
	if got := SequentialSubjectID(1); got != "SUBJ-00001" {
		t.Errorf("Expected SUBJ-00001, got %s", got)
	}
	if SequentialSubjectID(42) != SequentialSubjectID(42) {
		t.Error("Expected identical IDs for identical sequence numbers")
	}
	if SequentialSubjectID(9) >= SequentialSubjectID(10) {
		t.Error("Expected zero-padded IDs to sort in sequence order")
	}
}

// TestParseSubjectID tests subject ID parsing rejects blanks
func TestParseSubjectID(t *testing.T) {
	if _, err := ParseSubjectID("   "); err == nil {
		t.Error("Expected error for blank subject ID")
	}
	id, err := ParseSubjectID("SUBJ-00007")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if id.String() != "SUBJ-00007" {
		t.Errorf("Expected SUBJ-00007, got %s", id)
	}
}

// TestComputeTableHashOrderSensitive tests that row order changes the fingerprint
func TestComputeTableHashOrderSensitive(t *testing.T) {
	a := ComputeTableHash([]string{"r1", "r2"})
	b := ComputeTableHash([]string{"r2", "r1"})
	c := ComputeTableHash([]string{"r1", "r2"})

	if a == b {
		t.Error("Expected different hashes for different row order")
	}
	if a != c {
		t.Error("Expected identical hashes for identical rows")
	}
}

// TestErrorHelpers tests sentinel wrapping
func TestErrorHelpers(t *testing.T) {
	err := NewInsufficientDataError("reference table", 1, 2)
	if !IsInsufficientDataError(err) {
		t.Errorf("Expected insufficient data error, got %v", err)
	}
	if !IsRequestError(NewUnknownStrategyError("gan")) {
		t.Error("Expected unknown strategy to be a request error")
	}
	if !errors.Is(ErrUnknownVisit, ErrInvalidRequest) {
		t.Error("Expected ErrUnknownVisit to wrap ErrInvalidRequest")
	}
}
