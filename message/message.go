package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what an envelope carries between stages.
type Kind string

const (
	KindRequest     Kind = "request"
	KindPlan        Kind = "plan"
	KindAnswer      Kind = "answer"
	KindEvaluation  Kind = "evaluation"
	KindFinalAnswer Kind = "final_answer"
)

// Envelope is one inter-stage hand-off. Payload holds the serialized structure
// the receiving stage deserializes, so every hand-off is a JSON round trip.
type Envelope struct {
	ID        string    `json:"id"`
	Stage     string    `json:"stage"`
	Kind      Kind      `json:"kind"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Encode serializes v into a new envelope sent from stage.
func Encode(stage string, kind Kind, v any) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("message: encode %s payload: %w", kind, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Stage:     stage,
		Kind:      kind,
		Payload:   string(data),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode deserializes the envelope payload into T.
func Decode[T any](env *Envelope) (T, error) {
	var out T
	if env == nil {
		return out, fmt.Errorf("message: nil envelope")
	}
	if err := json.Unmarshal([]byte(env.Payload), &out); err != nil {
		return out, fmt.Errorf("message: decode %s payload from %s: %w", env.Kind, env.Stage, err)
	}
	return out, nil
}

// Summary is the trace-friendly view of an envelope without its payload.
type Summary struct {
	ID        string    `json:"id"`
	Stage     string    `json:"stage"`
	Kind      Kind      `json:"kind"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Summarize drops the payload, keeping its size.
func (e *Envelope) Summarize() Summary {
	return Summary{
		ID:        e.ID,
		Stage:     e.Stage,
		Kind:      e.Kind,
		Bytes:     len(e.Payload),
		CreatedAt: e.CreatedAt,
	}
}
