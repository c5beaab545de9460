package util

import (
	"math"
	"testing"
)

func TestHashBytes(t *testing.T) {
	tests := []struct {
		in   []byte
		want uint32
	}{
		{[]byte(""), 0x811c9dc5},
		{[]byte("a"), 0xe40c292c},
		{[]byte("foobar"), 0xbf9cf968},
	}

	for _, tt := range tests {
		if got := HashBytes(tt.in); got != tt.want {
			t.Errorf("HashBytes(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}

	// embedded zero bytes are part of the key
	if HashBytes([]byte("a\x00b")) == HashBytes([]byte("a")) {
		t.Errorf("Expected keys with embedded NUL to hash differently from their prefix")
	}
}

func TestNewDistributionStats(t *testing.T) {
	even := NewDistributionStats([]float64{2, 2, 2, 2})
	if even.DistributionQuality != 1 {
		t.Errorf("Expected quality 1 for an even distribution, got %f", even.DistributionQuality)
	}
	if even.MinMaxRatio != 1 {
		t.Errorf("Expected min/max ratio 1, got %f", even.MinMaxRatio)
	}

	skewed := NewDistributionStats([]float64{0, 0, 0, 8})
	if skewed.DistributionQuality >= even.DistributionQuality {
		t.Errorf("Expected skewed quality %f to be below %f", skewed.DistributionQuality, even.DistributionQuality)
	}
	if skewed.Mean != 2 || skewed.Max != 8 || skewed.Min != 0 {
		t.Errorf("Unexpected stats: %+v", skewed.Stats)
	}
	if math.Abs(skewed.StdDeviation-math.Sqrt(12)) > 1e-9 {
		t.Errorf("Expected std deviation %f, got %f", math.Sqrt(12), skewed.StdDeviation)
	}

	if empty := NewStats(nil); empty != (Stats{}) {
		t.Errorf("Expected zero stats for empty input, got %+v", empty)
	}
}
