package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antoniostano/storageagent/internal/entities"
)

func TestClassifyDTMF(t *testing.T) {
	tests := []struct {
		digit  string
		intent Intent
		conf   float64
	}{
		{digit: "1", intent: Availability, conf: 1.0},
		{digit: "2", intent: Pricing, conf: 1.0},
		{digit: "3", intent: Information, conf: 1.0},
		{digit: "9", intent: Unknown, conf: 0},
		{digit: "#", intent: Unknown, conf: 0},
		{digit: "12", intent: Unknown, conf: 0},
	}
	for _, tt := range tests {
		t.Run(tt.digit, func(t *testing.T) {
			got := ClassifyDTMF(tt.digit)
			assert.Equal(t, tt.intent, got.Intent)
			assert.Equal(t, tt.conf, got.Confidence)
			assert.Equal(t, SourceDTMF, got.Source)
		})
	}
}

func TestClassifyDigitOverridesSpeech(t *testing.T) {
	extracted := map[string]entities.Entity{
		entities.TypeDuration: entities.Duration{Amount: 3, Unit: "month", Score: 1},
	}
	got := Classify("how much is the price", "1", extracted)
	assert.Equal(t, Availability, got.Intent)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, SourceDTMF, got.Source)
}

func TestClassifyEntityOverride(t *testing.T) {
	size := entities.UnitSize{Width: 10, Length: 10, Score: 1}
	dur := entities.Duration{Amount: 3, Unit: "month", Score: 1}

	t.Run("unit size beats pricing keywords", func(t *testing.T) {
		got := Classify("how much does it cost, what is the rate", "", map[string]entities.Entity{
			entities.TypeUnitSize: size,
		})
		assert.Equal(t, Availability, got.Intent)
		assert.Equal(t, SourceEntity, got.Source)
	})

	t.Run("duration alone means pricing", func(t *testing.T) {
		got := Classify("where are you located", "", map[string]entities.Entity{
			entities.TypeDuration: dur,
		})
		assert.Equal(t, Pricing, got.Intent)
	})

	t.Run("unit size wins over duration", func(t *testing.T) {
		got := Classify("", "", map[string]entities.Entity{
			entities.TypeUnitSize: size,
			entities.TypeDuration: dur,
		})
		assert.Equal(t, Availability, got.Intent)
	})
}

func TestClassifyKeywords(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		intent Intent
		conf   float64
	}{
		{name: "pricing two matches", text: "How much does it cost?", intent: Pricing, conf: 0.7},
		{name: "location", text: "where is your address", intent: Location, conf: 0.7},
		{name: "hours single", text: "are you open on sunday", intent: Hours, conf: 0.6},
		{name: "payment", text: "can I pay my bill online", intent: Payment, conf: 0.7},
		{name: "information phrase", text: "tell me about the facility", intent: Information, conf: 0.6},
		{name: "cap at 0.9", text: "price cost rate how much", intent: Pricing, conf: 0.9},
		{name: "tie keeps first declared", text: "open unit", intent: Availability, conf: 0.6},
		{name: "higher score beats earlier intent", text: "storage price cost", intent: Pricing, conf: 0.7},
		{name: "nothing matched", text: "hello there", intent: Unknown, conf: 0},
		{name: "empty", text: "", intent: Unknown, conf: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyKeywords(tt.text)
			assert.Equal(t, tt.intent, got.Intent)
			assert.InDelta(t, tt.conf, got.Confidence, 1e-9)
		})
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Hours.Valid())
	assert.False(t, Intent("refund").Valid())
}
