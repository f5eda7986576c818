package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrExtraction is returned when a completed run's output does not contain a
// parseable JSON object.
var ErrExtraction = errors.New("failed to extract a valid JSON object from the response")

// Extract isolates the structured payload embedded in the assistant's raw
// reply: the substring from the first '{' to the last '}', inclusive.
//
// This handles one JSON object surrounded by prose. It deliberately does not
// balance braces: trailing prose that itself contains a '}' lands inside the
// candidate and fails the parse. Replacing this with a stricter scanner would
// change which replies count as extractable, so the heuristic stays as is.
func Extract(raw string) (json.RawMessage, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil, ErrExtraction
	}

	candidate := raw[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("%w: candidate does not parse", ErrExtraction)
	}
	return json.RawMessage(candidate), nil
}
