package entities

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExtractUnitSize(t *testing.T) {
	x := NewExtractor(zaptest.NewLogger(t))

	tests := []struct {
		name   string
		text   string
		width  int
		length int
		found  bool
	}{
		{name: "compact x", text: "I need a 10x15 storage unit", width: 10, length: 15, found: true},
		{name: "spoken by", text: "I need a 10 by 10 storage unit", width: 10, length: 10, found: true},
		{name: "asterisk", text: "something like 5 * 10", width: 5, length: 10, found: true},
		{name: "upper case", text: "DO YOU HAVE A 5X5", width: 5, length: 5, found: true},
		{name: "feet between", text: "a 10 feet by 20 space", width: 10, length: 20, found: true},
		{name: "square feet", text: "about 100 square feet", width: 10, length: 10, found: true},
		{name: "square feet floors root", text: "roughly 150 sq ft please", width: 12, length: 12, found: true},
		{name: "no size", text: "what are your hours", found: false},
		{name: "empty", text: "", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := x.ExtractUnitSize(tt.text)
			assert.Equal(t, tt.found, ok)
			if !tt.found {
				return
			}
			assert.Equal(t, tt.width, got.Width)
			assert.Equal(t, tt.length, got.Length)
			assert.Equal(t, tt.width*tt.length, got.SquareFeet())
			assert.Equal(t, fmt.Sprintf("%dx%d", tt.width, tt.length), got.Value())
		})
	}
}

func TestExtractUnitSizeSkipsOverflowingPattern(t *testing.T) {
	x := NewExtractor(nil)

	// The first pattern matches but cannot be parsed; the square footage
	// pattern later in the table still applies.
	got, ok := x.ExtractUnitSize("99999999999999999999999 x 1 or maybe 25 square feet")
	require.True(t, ok)
	assert.Equal(t, 5, got.Width)
	assert.Equal(t, 5, got.Length)
}

func TestExtractUnitSizeRejectsOversizedSides(t *testing.T) {
	x := NewExtractor(nil)

	_, ok := x.ExtractUnitSize("3037000500 x 3037000500")
	assert.False(t, ok)

	got, ok := x.ExtractUnitSize("3037000500 by 2 or about 100 square feet")
	require.True(t, ok)
	assert.Equal(t, "10x10", got.Value())
	assert.Equal(t, 100, got.SquareFeet())

	got, ok = x.ExtractUnitSize("1000 x 1000")
	require.True(t, ok)
	assert.Equal(t, 1000000, got.SquareFeet())

	_, ok = x.ExtractUnitSize("2000000 square feet")
	assert.False(t, ok)
}

func TestExtractUnitSizeAnyValidPair(t *testing.T) {
	x := NewExtractor(nil)
	for w := 1; w <= 30; w += 7 {
		for l := 1; l <= 30; l += 5 {
			got, ok := x.ExtractUnitSize(fmt.Sprintf("maybe %dx%d would work", w, l))
			require.True(t, ok)
			assert.Equal(t, UnitSize{Width: w, Length: l, Score: 1.0}, got)
			assert.Equal(t, w*l, got.SquareFeet())
		}
	}
}

func TestExtractDuration(t *testing.T) {
	x := NewExtractor(nil)

	tests := []struct {
		text   string
		amount int
		unit   string
		value  string
		found  bool
	}{
		{text: "I need storage for 6 months", amount: 6, unit: "month", value: "6 months", found: true},
		{text: "just 1 month", amount: 1, unit: "month", value: "1 month", found: true},
		{text: "a 12-month lease", amount: 12, unit: "month", value: "12 months", found: true},
		{text: "For 2 Weeks", amount: 2, unit: "week", value: "2 weeks", found: true},
		{text: "maybe 3 years", amount: 3, unit: "year", value: "3 years", found: true},
		{text: "a long time", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := x.ExtractDuration(tt.text)
			assert.Equal(t, tt.found, ok)
			if !tt.found {
				return
			}
			assert.Equal(t, tt.amount, got.Amount)
			assert.Equal(t, tt.unit, got.Unit)
			assert.Equal(t, tt.value, got.Value())
		})
	}
}

func TestExtractDurationAnyMonthCount(t *testing.T) {
	x := NewExtractor(nil)
	for n := 1; n <= 24; n++ {
		got, ok := x.ExtractDuration(fmt.Sprintf("%d months", n))
		require.True(t, ok)
		assert.Equal(t, n, got.Amount)
		assert.Equal(t, "month", got.Unit)
	}
}

func TestExtractMoveInDate(t *testing.T) {
	x := NewExtractor(nil)

	tests := []struct {
		text   string
		phrase string
		found  bool
	}{
		{text: "I want to move in next week", phrase: "next week", found: true},
		{text: "can I move in tomorrow?", phrase: "tomorrow", found: true},
		{text: "I'd like to move in on 5th march", phrase: "5th march", found: true},
		{text: "starting next month", phrase: "next month", found: true},
		{text: "whenever", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := x.ExtractMoveInDate(tt.text)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.phrase, got.Value())
				assert.Equal(t, TypeMoveInDate, got.Type())
			}
		})
	}
}

func TestExtractAll(t *testing.T) {
	x := NewExtractor(nil)

	t.Run("empty input", func(t *testing.T) {
		got := x.ExtractAll("")
		require.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("garbage input", func(t *testing.T) {
		assert.NotPanics(t, func() {
			_ = x.ExtractAll("\x00\xff by by x x ** 9999999999999999999999999999 square")
		})
	})

	t.Run("all three", func(t *testing.T) {
		got := x.ExtractAll("a 10 by 10 for 3 months, I want to move in tomorrow")
		require.Len(t, got, 3)

		size, ok := got[TypeUnitSize].(UnitSize)
		require.True(t, ok)
		assert.Equal(t, "10x10", size.Value())

		d, ok := got[TypeDuration].(Duration)
		require.True(t, ok)
		assert.Equal(t, 3, d.Amount)

		assert.Equal(t, "tomorrow", got[TypeMoveInDate].Value())

		ordered := Ordered(got)
		require.Len(t, ordered, 3)
		assert.Equal(t, TypeUnitSize, ordered[0].Type())
		assert.Equal(t, TypeDuration, ordered[1].Type())
		assert.Equal(t, TypeMoveInDate, ordered[2].Type())
	})
}

func TestEntityJSON(t *testing.T) {
	raw, err := json.Marshal(UnitSize{Width: 10, Length: 10, Score: 1})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "unit_size", decoded["type"])
	assert.Equal(t, "10x10", decoded["value"])
	assert.EqualValues(t, 100, decoded["square_feet"])
}
