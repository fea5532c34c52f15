package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMillisUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"integer", `1700000000000`, 1700000000000},
		{"numeric string", `"1700000000000"`, 1700000000000},
		{"rfc3339", `"2023-11-14T22:13:20Z"`, 1700000000000},
		{"rfc3339 with millis", `"2023-11-14T22:13:20.500Z"`, 1700000000500},
		{"naive datetime", `"2023-11-14T22:13:20"`, 1700000000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Millis
			require.NoError(t, json.Unmarshal([]byte(tt.input), &m))
			assert.Equal(t, tt.want, int64(m))
		})
	}
}

func TestMillisUnmarshalRejects(t *testing.T) {
	for _, input := range []string{`null`, `"not-a-time"`, `1.5`, `true`, `""`} {
		var m Millis
		assert.Error(t, json.Unmarshal([]byte(input), &m), "input %s", input)
	}
}

func TestMillisMarshalIsInteger(t *testing.T) {
	data, err := json.Marshal(Millis(1700000000000))
	require.NoError(t, err)
	assert.Equal(t, "1700000000000", string(data))
}

func TestEventValidate(t *testing.T) {
	e := Event{Symbol: "EURUSD", TS: 1700000000000}
	assert.NoError(t, e.Validate())

	short := Event{Symbol: "EU", TS: 1700000000000}
	assert.Error(t, short.Validate())

	zeroTS := Event{Symbol: "EURUSD"}
	assert.Error(t, zeroTS.Validate())
}

func TestEventIsTick(t *testing.T) {
	tf := "tick"
	kind := "TICK"
	m1 := "M1"

	assert.True(t, (&Event{Timeframe: &tf}).IsTick())
	assert.True(t, (&Event{Kind: &kind}).IsTick())
	assert.False(t, (&Event{Timeframe: &m1}).IsTick())
	assert.False(t, (&Event{}).IsTick())
}

func TestKeysCap(t *testing.T) {
	batch := make([]Event, 25)
	for i := range batch {
		batch[i] = Event{Symbol: "EURUSD", TS: Millis(1700000000000 + int64(i))}
	}

	assert.Len(t, Keys(batch, 10), 10)
	assert.Len(t, Keys(batch, 0), 25)
	assert.Len(t, Keys(batch, 100), 25)

	keys := Keys(batch, 2)
	assert.Equal(t, int64(1700000000000), keys[0].TSMillis)
	assert.Equal(t, int64(1700000000001), keys[1].TSMillis)
}

func TestEventJSONRoundTrip(t *testing.T) {
	raw := `{"symbol":"EURUSD","ts":"2023-11-14T22:13:20Z","timeframe":"M1","open":1.05,"high":1.06,"low":1.04,"close":1.055,"volume":1200,"meta":{"source":"feed-a"}}`

	var e Event
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.Equal(t, "EURUSD", e.Symbol)
	assert.Equal(t, int64(1700000000000), int64(e.TS))
	require.NotNil(t, e.Close)
	assert.Equal(t, 1.055, *e.Close)
	assert.Equal(t, "feed-a", e.Meta["source"])

	out, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"ts":1700000000000`)
}
