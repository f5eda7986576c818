package runner

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestExtract_ObjectSurroundedByProse(t *testing.T) {
	result, err := Extract(`blah {"a":1,"b":[1,2]} trailing`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed struct {
		A int   `json:"a"`
		B []int `json:"b"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if parsed.A != 1 || len(parsed.B) != 2 {
		t.Errorf("unexpected payload: %s", result)
	}
}

func TestExtract_BareObject(t *testing.T) {
	result, err := Extract(`{"ok":true}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `{"ok":true}` {
		t.Errorf("expected payload unchanged, got %s", result)
	}
}

func TestExtract_NoBraces(t *testing.T) {
	_, err := Extract("no braces here")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestExtract_Unbalanced(t *testing.T) {
	_, err := Extract("{malformed")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestExtract_ReversedBraces(t *testing.T) {
	_, err := Extract("} backwards {")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

// A '}' in trailing prose lands inside the candidate and breaks the parse.
// That is the documented behavior of the brace heuristic, not a bug.
func TestExtract_TrailingBraceInProse(t *testing.T) {
	_, err := Extract(`{"a":1} and later a stray }`)
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}
