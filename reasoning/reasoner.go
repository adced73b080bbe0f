package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Reasoner is the language-reasoning collaborator. Implementations must be
// safe for concurrent use; one backend is shared by every call.
type Reasoner interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Extract pulls newly stated field values out of the latest caller
	// utterance.
	Extract(ctx context.Context, req ExtractRequest) (Extraction, error)

	// Respond returns the next thing the agent should say. An empty
	// string means the backend has nothing new to ask.
	Respond(ctx context.Context, req RespondRequest) (string, error)
}

// FieldSpec describes one piece of information the call must elicit.
type FieldSpec struct {
	Name        string
	Description string
	// Example is shown to the model as a normalised value.
	Example string
	// Question is the canned question for this field.
	Question string
	// Keywords mark agent utterances that already asked about this field.
	Keywords []string
	Required bool
	// List fields hold several values (for example class names).
	List bool
}

// Turn is one entry of the recent conversation.
type Turn struct {
	Speaker string
	Text    string
}

// Speaker labels used in Turn.
const (
	SpeakerCaller = "caller"
	SpeakerAgent  = "agent"
)

// Value is one extracted field value.
type Value struct {
	Text string
	List []string
	// Confidence in [0,1].
	Confidence float64
}

// Display returns the value as a single string; list values are joined.
func (v Value) Display() string {
	if len(v.List) > 0 {
		return strings.Join(v.List, ", ")
	}
	return v.Text
}

// Empty reports whether the value carries nothing.
func (v Value) Empty() bool {
	return strings.TrimSpace(v.Text) == "" && len(v.List) == 0
}

// ExtractRequest is the input to Extract.
type ExtractRequest struct {
	// Topic names what the call is about (for example "your gym").
	Topic     string
	Fields    []FieldSpec
	Collected map[string]string
	Recent    []Turn
	Latest    string
}

// Extraction is the outcome of Extract. Values only holds fields that were
// newly stated.
type Extraction struct {
	Values     map[string]Value
	Confidence float64
	Notes      string
}

// Empty reports whether nothing was extracted.
func (e Extraction) Empty() bool {
	return len(e.Values) == 0
}

// RespondRequest is the input to Respond.
type RespondRequest struct {
	Topic     string
	Fields    []FieldSpec
	Collected map[string]string
	Recent    []Turn
	// Asked holds everything the agent has said so far.
	Asked []string
}

// Missing returns the fields without a collected value, in catalogue order.
func (r RespondRequest) Missing() []FieldSpec {
	return missingFields(r.Fields, r.Collected)
}

func missingFields(fields []FieldSpec, collected map[string]string) []FieldSpec {
	var out []FieldSpec
	for _, f := range fields {
		if strings.TrimSpace(collected[f.Name]) == "" {
			out = append(out, f)
		}
	}
	return out
}

var (
	// ErrTimeout is returned when a reasoning call exceeds its deadline.
	ErrTimeout = errors.New("reasoning: timeout")

	// ErrInvalidOutput is returned when the model output cannot be used.
	ErrInvalidOutput = errors.New("reasoning: invalid model output")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("reasoning: empty response")

	// ErrMissingAPIKey is returned by constructors without credentials.
	ErrMissingAPIKey = errors.New("reasoning: api key is required")
)

// Error is a failed call to a reasoning backend.
type Error struct {
	Provider   string
	Operation  string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (status %d): %v", e.Provider, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapError normalises deadline errors to ErrTimeout.
func wrapError(provider, operation string, status int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &Error{Provider: provider, Operation: operation, StatusCode: status, Err: err}
}
