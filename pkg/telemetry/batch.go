package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoMeasurement = errors.New("measurement name is empty")
	ErrNoFields      = errors.New("batch has no fields")
	ErrInvalidTag    = errors.New("invalid tag")
)

// Tag is one key=value pair of a batch tag set
type Tag struct {
	Key   string
	Value string
}

// Field is one numeric value of a batch
type Field struct {
	Key   string
	Value float64
}

// Batch is one measurement submitted to the time-series backend. A zero
// Timestamp lets the server assign the time.
type Batch struct {
	Measurement string
	Tags        []Tag
	Fields      []Field
	Timestamp   time.Time
}

// AddField sets the value of key. An existing field keeps its position and
// takes the new value.
func (b *Batch) AddField(key string, value float64) {
	for i := range b.Fields {
		if b.Fields[i].Key == key {
			b.Fields[i].Value = value
			return
		}
	}
	b.Fields = append(b.Fields, Field{Key: key, Value: value})
}

// Field returns the value of key.
func (b Batch) Field(key string) (float64, bool) {
	for _, f := range b.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return 0, false
}

// WithTags returns a copy of the batch with the static tag set appended.
// Static tags replace batch tags with the same key.
func (b Batch) WithTags(static []Tag) Batch {
	out := b
	out.Tags = make([]Tag, 0, len(b.Tags)+len(static))
	for _, t := range b.Tags {
		if !hasTag(static, t.Key) {
			out.Tags = append(out.Tags, t)
		}
	}
	out.Tags = append(out.Tags, static...)
	out.Fields = append([]Field(nil), b.Fields...)
	return out
}

func hasTag(tags []Tag, key string) bool {
	for _, t := range tags {
		if t.Key == key {
			return true
		}
	}
	return false
}

// ParseTags parses a comma separated tag set such as "location=Garden,floor=1".
func ParseTags(s string) ([]Tag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var tags []Tag
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTag, pair)
		}
		tags = append(tags, Tag{Key: k, Value: v})
	}
	return tags, nil
}

// FormatTags is the inverse of ParseTags
func FormatTags(tags []Tag) string {
	pairs := make([]string, len(tags))
	for i, t := range tags {
		pairs[i] = t.Key + "=" + t.Value
	}
	return strings.Join(pairs, ",")
}
