package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLine(t *testing.T) {
	t.Parallel()

	b := Batch{
		Measurement: "station",
		Tags:        []Tag{{Key: "location", Value: "Garden"}},
		Fields: []Field{
			{Key: "temperature", Value: 21.5},
			{Key: "humidity", Value: 58},
		},
	}
	line, err := Line(b)
	require.NoError(t, err)
	assert.Equal(t, "station,location=Garden temperature=21.5,humidity=58", line)

	parsed, err := Parse([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, "station", parsed.Measurement)
	assert.Equal(t, b.Tags, parsed.Tags)
	assert.Equal(t, b.Fields, parsed.Fields)
	assert.True(t, parsed.Timestamp.IsZero())
}

func TestEncode(t *testing.T) {
	t.Parallel()

	t.Run("timestamp", func(t *testing.T) {
		t.Parallel()

		ts := time.Date(2024, time.May, 3, 6, 0, 0, 0, time.UTC)
		data, err := Encode(Batch{
			Measurement: "station",
			Fields:      []Field{{Key: "temperature", Value: -3.25}},
			Timestamp:   ts,
		})
		require.NoError(t, err)
		assert.Equal(t, "station temperature=-3.25 1714716000000000000\n", string(data))
		parsed, err := Parse(data)
		require.NoError(t, err)
		assert.True(t, ts.Equal(parsed.Timestamp))
	})
	t.Run("tag order is kept", func(t *testing.T) {
		t.Parallel()

		line, err := Line(Batch{
			Measurement: "station",
			Tags:        []Tag{{Key: "zone", Value: "b"}, {Key: "area", Value: "a"}},
			Fields:      []Field{{Key: "battery", Value: 87}},
		})
		require.NoError(t, err)
		assert.Equal(t, "station,zone=b,area=a battery=87", line)
	})
	t.Run("escaping", func(t *testing.T) {
		t.Parallel()

		b := Batch{
			Measurement: "station",
			Tags:        []Tag{{Key: "location", Value: "Back yard"}},
			Fields:      []Field{{Key: "temperature", Value: 1}},
		}
		line, err := Line(b)
		require.NoError(t, err)
		assert.Equal(t, `station,location=Back\ yard temperature=1`, line)
		parsed, err := Parse([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, b.Tags, parsed.Tags)
	})
	t.Run("no fields", func(t *testing.T) {
		t.Parallel()

		_, err := Encode(Batch{Measurement: "station"})
		assert.ErrorIs(t, err, ErrNoFields)
	})
	t.Run("no measurement", func(t *testing.T) {
		t.Parallel()

		_, err := Encode(Batch{Fields: []Field{{Key: "temperature", Value: 1}}})
		assert.ErrorIs(t, err, ErrNoMeasurement)
	})
	t.Run("NaN", func(t *testing.T) {
		t.Parallel()

		_, err := Encode(Batch{Measurement: "station", Fields: []Field{{Key: "temperature", Value: math.NaN()}}})
		assert.ErrorIs(t, err, ErrInvalidLine)
	})
	t.Run("empty tag value", func(t *testing.T) {
		t.Parallel()

		_, err := Encode(Batch{
			Measurement: "station",
			Tags:        []Tag{{Key: "location"}},
			Fields:      []Field{{Key: "temperature", Value: 1}},
		})
		assert.ErrorIs(t, err, ErrInvalidTag)
	})
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("integer fields", func(t *testing.T) {
		t.Parallel()

		b, err := Parse([]byte("station rssi=-67i,count=3u\n"))
		require.NoError(t, err)
		assert.Equal(t, []Field{{Key: "rssi", Value: -67}, {Key: "count", Value: 3}}, b.Fields)
	})
	t.Run("string field", func(t *testing.T) {
		t.Parallel()

		_, err := Parse([]byte(`station status="ok"`))
		assert.ErrorIs(t, err, ErrInvalidLine)
	})
	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		_, err := Parse(nil)
		assert.ErrorIs(t, err, ErrInvalidLine)
	})
}
