package entities

import (
	"encoding/json"
	"fmt"
)

// Entity type tags.
const (
	TypeUnitSize   = "unit_size"
	TypeDuration   = "duration"
	TypeMoveInDate = "move_in_date"
)

// Entity is a structured fact pulled from one utterance. The set of
// implementations is closed; consumers resolve variants with a type switch.
type Entity interface {
	Type() string
	Value() string
	Confidence() float64
	isEntity()
}

// UnitSize is a storage unit footprint in feet.
type UnitSize struct {
	Width  int
	Length int
	Score  float64
}

func (u UnitSize) Type() string        { return TypeUnitSize }
func (u UnitSize) Value() string       { return fmt.Sprintf("%dx%d", u.Width, u.Length) }
func (u UnitSize) Confidence() float64 { return u.Score }
func (u UnitSize) SquareFeet() int     { return u.Width * u.Length }
func (UnitSize) isEntity()             {}

func (u UnitSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		entityJSON
		Width      int `json:"width"`
		Length     int `json:"length"`
		SquareFeet int `json:"square_feet"`
	}{entityJSON: baseJSON(u), Width: u.Width, Length: u.Length, SquareFeet: u.SquareFeet()})
}

// Duration is a rental term such as "3 months". Unit is the matched stem
// (month, week or year).
type Duration struct {
	Amount int
	Unit   string
	Score  float64
}

func (d Duration) Type() string { return TypeDuration }

func (d Duration) Value() string {
	if d.Amount > 1 {
		return fmt.Sprintf("%d %ss", d.Amount, d.Unit)
	}
	return fmt.Sprintf("%d %s", d.Amount, d.Unit)
}

func (d Duration) Confidence() float64 { return d.Score }
func (Duration) isEntity()             {}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		entityJSON
		Amount int    `json:"amount"`
		Unit   string `json:"unit"`
	}{entityJSON: baseJSON(d), Amount: d.Amount, Unit: d.Unit})
}

// MoveInDate keeps the caller's phrase verbatim ("tomorrow", "5th march").
// It is only ever echoed back, so it is not parsed into a calendar date.
type MoveInDate struct {
	Phrase string
	Score  float64
}

func (m MoveInDate) Type() string        { return TypeMoveInDate }
func (m MoveInDate) Value() string       { return m.Phrase }
func (m MoveInDate) Confidence() float64 { return m.Score }
func (MoveInDate) isEntity()             {}

func (m MoveInDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(baseJSON(m))
}

type entityJSON struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

func baseJSON(e Entity) entityJSON {
	return entityJSON{Type: e.Type(), Value: e.Value(), Confidence: e.Confidence()}
}

var typeOrder = []string{TypeUnitSize, TypeDuration, TypeMoveInDate}

// Ordered flattens an extraction result into a stable slice.
func Ordered(m map[string]Entity) []Entity {
	if len(m) == 0 {
		return nil
	}
	out := make([]Entity, 0, len(m))
	for _, t := range typeOrder {
		if e, ok := m[t]; ok && e != nil {
			out = append(out, e)
		}
	}
	return out
}
