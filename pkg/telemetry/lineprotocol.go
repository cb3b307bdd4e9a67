package telemetry

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
)

var ErrInvalidLine = errors.New("invalid line")

// Encode serializes the batch into one newline terminated line of InfluxDB
// line protocol. Tags and fields are written in batch order.
func Encode(b Batch) ([]byte, error) {
	if b.Measurement == "" {
		return nil, ErrNoMeasurement
	}
	if len(b.Fields) == 0 {
		return nil, ErrNoFields
	}
	if err := validateKeys(b); err != nil {
		return nil, err
	}
	var enc lineprotocol.Encoder
	// the configured tag set is ordered, not sorted
	enc.SetLax(true)
	enc.SetPrecision(lineprotocol.Nanosecond)
	enc.StartLine(b.Measurement)
	for _, t := range b.Tags {
		enc.AddTag(t.Key, t.Value)
	}
	for _, f := range b.Fields {
		v, ok := lineprotocol.FloatValue(f.Value)
		if !ok {
			return nil, fmt.Errorf("%w: field %s has non-finite value", ErrInvalidLine, f.Key)
		}
		enc.AddField(f.Key, v)
	}
	enc.EndLine(b.Timestamp)
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLine, err)
	}
	return enc.Bytes(), nil
}

// Line is Encode without the trailing newline
func Line(b Batch) (string, error) {
	data, err := Encode(b)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(data, []byte("\n"))), nil
}

// Parse decodes the first line of data back into a batch. Integer fields
// are converted to float64.
func Parse(data []byte) (Batch, error) {
	dec := lineprotocol.NewDecoderWithBytes(data)
	if !dec.Next() {
		return Batch{}, fmt.Errorf("%w: no line", ErrInvalidLine)
	}
	m, err := dec.Measurement()
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrInvalidLine, err)
	}
	b := Batch{Measurement: string(m)}
	for {
		key, val, err := dec.NextTag()
		if err != nil {
			return Batch{}, fmt.Errorf("%w: %v", ErrInvalidLine, err)
		}
		if key == nil {
			break
		}
		b.Tags = append(b.Tags, Tag{Key: string(key), Value: string(val)})
	}
	for {
		key, val, err := dec.NextField()
		if err != nil {
			return Batch{}, fmt.Errorf("%w: %v", ErrInvalidLine, err)
		}
		if key == nil {
			break
		}
		var f float64
		switch val.Kind() {
		case lineprotocol.Float:
			f = val.FloatV()
		case lineprotocol.Int:
			f = float64(val.IntV())
		case lineprotocol.Uint:
			f = float64(val.UintV())
		default:
			return Batch{}, fmt.Errorf("%w: field %s is not numeric", ErrInvalidLine, key)
		}
		b.Fields = append(b.Fields, Field{Key: string(key), Value: f})
	}
	ts, err := dec.Time(lineprotocol.Nanosecond, time.Time{})
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrInvalidLine, err)
	}
	b.Timestamp = ts
	return b, nil
}

func validateKeys(b Batch) error {
	for _, t := range b.Tags {
		if t.Key == "" || t.Value == "" || strings.ContainsAny(t.Key+t.Value, "\n\r") {
			return fmt.Errorf("%w: %q=%q", ErrInvalidTag, t.Key, t.Value)
		}
	}
	for _, f := range b.Fields {
		if f.Key == "" || strings.ContainsAny(f.Key, "\n\r") {
			return fmt.Errorf("%w: field key %q", ErrInvalidLine, f.Key)
		}
	}
	return nil
}
