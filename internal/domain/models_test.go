package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemTime_UnixNano(t *testing.T) {
	tests := []struct {
		name string
		ts   *SystemTime
		want int64
	}{
		{name: "Nil", ts: nil, want: 0},
		{name: "Regular", ts: &SystemTime{Secs: 1700000000, Nanos: 42}, want: 1700000000*int64(time.Second) + 42},
		{name: "Seconds Beyond Range", ts: &SystemTime{Secs: 10_000_000_000}, want: math.MaxInt64},
		{name: "Max Seconds", ts: &SystemTime{Secs: math.MaxInt64}, want: math.MaxInt64},
		{name: "Nanos Push Over", ts: &SystemTime{Secs: math.MaxInt64 / int64(time.Second), Nanos: int64(time.Second)}, want: math.MaxInt64},
		{name: "Far Past", ts: &SystemTime{Secs: -10_000_000_000}, want: math.MinInt64},
		{name: "Nanos Push Under", ts: &SystemTime{Secs: -(math.MaxInt64 / int64(time.Second)), Nanos: -int64(time.Second)}, want: math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ts.UnixNano())
		})
	}
}

func TestSession_RecencyOrdersHugeTimestampsLast(t *testing.T) {
	recent := Session{TimestampUpdated: &SystemTime{Secs: 1700000000}}
	huge := Session{TimestampUpdated: &SystemTime{Secs: 9_300_000_000}}

	assert.Greater(t, huge.Recency(), recent.Recency())
}
