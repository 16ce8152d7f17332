// Package history persists summaries of finished jobs independently of the
// live job store.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/teranos/scribe/errors"
)

// TimeLayout is the wire format for history timestamps: microsecond
// precision, UTC, literal Z suffix.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp is a UTC time serialized with TimeLayout.
type Timestamp struct {
	time.Time
}

// NewTimestamp converts t to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// String formats the timestamp with TimeLayout.
func (t Timestamp) String() string {
	return t.UTC().Format(TimeLayout)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML renders the timestamp as a TimeLayout string.
func (t Timestamp) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// ParseTimestamp parses TimeLayout, falling back to RFC 3339.
func ParseTimestamp(raw string) (Timestamp, error) {
	parsed, err := time.Parse(TimeLayout, raw)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Timestamp{}, errors.Wrapf(err, "invalid history timestamp %q", raw)
		}
	}
	return NewTimestamp(parsed), nil
}

// Record is an immutable summary of a job in a terminal state.
type Record struct {
	ID         string    `json:"id" yaml:"id"`
	Status     string    `json:"status" yaml:"status"`
	Progress   float64   `json:"progress" yaml:"progress"`
	ResultPath *string   `json:"result_path" yaml:"result_path"`
	CreatedAt  Timestamp `json:"created_at" yaml:"created_at"`
	UpdatedAt  Timestamp `json:"updated_at" yaml:"updated_at"`
}

// Repository stores history records.
type Repository interface {
	// Append adds a record.
	Append(ctx context.Context, record Record) error
	// Prune keeps only records whose id is in keepIDs.
	Prune(ctx context.Context, keepIDs []string) error
	// List returns all records in insertion order.
	List(ctx context.Context) ([]Record, error)
	// Close releases underlying resources.
	Close() error
}

func keepSet(ids []string) map[string]struct{} {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	return keep
}
