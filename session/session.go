package session

import (
	"context"
	"time"
)

// DefaultMaxEntries is the number of question/answer pairs kept per session.
const DefaultMaxEntries = 5

// Entry is one completed question/answer exchange.
type Entry struct {
	Question string    `json:"question" bson:"question"`
	Answer   string    `json:"answer" bson:"answer"`
	At       time.Time `json:"at" bson:"at"`
}

// Record is the serializable form of a conversation session.
type Record struct {
	ID        string    `json:"id"`
	Entries   []Entry   `json:"entries"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord returns an empty record for id.
func NewRecord(id string) *Record {
	now := time.Now()
	return &Record{
		ID:        id,
		Entries:   []Entry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Entries = make([]Entry, len(r.Entries))
	copy(out.Entries, r.Entries)
	return &out
}

// Last returns the most recent exchange.
func (r *Record) Last() (Entry, bool) {
	if r == nil || len(r.Entries) == 0 {
		return Entry{}, false
	}
	return r.Entries[len(r.Entries)-1], true
}

// push appends e and drops the oldest entries beyond max.
func (r *Record) push(e Entry, max int) {
	r.Entries = append(r.Entries, e)
	if max > 0 && len(r.Entries) > max {
		r.Entries = append([]Entry(nil), r.Entries[len(r.Entries)-max:]...)
	}
	r.UpdatedAt = e.At
}

// Store defines the interface for session storage backends that operate on
// serializable session records. Load must return an error wrapping
// errors.ErrNotFound for unknown ids.
type Store interface {
	Save(ctx context.Context, record *Record) error
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
}
