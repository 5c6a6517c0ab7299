package storage

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// OpeningHours is one day's office window in 24h "HH:MM" form.
type OpeningHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

type Facility struct {
	Name      string                  `json:"name"`
	Address   string                  `json:"address"`
	City      string                  `json:"city"`
	State     string                  `json:"state"`
	ZipCode   string                  `json:"zip_code"`
	Phone     string                  `json:"phone"`
	Email     string                  `json:"email"`
	Hours     map[string]OpeningHours `json:"hours"`
	Amenities []string                `json:"amenities"`
	// Timezone is an IANA zone name; hours are read in this zone.
	Timezone string `json:"timezone"`
}

// Local converts t to the facility's zone. An unknown zone reads as UTC.
func (f Facility) Local(t time.Time) time.Time {
	loc, err := time.LoadLocation(strings.TrimSpace(f.Timezone))
	if err != nil {
		return t.UTC()
	}
	return t.In(loc)
}

// HoursOn returns the office window for t's weekday in facility time.
func (f Facility) HoursOn(t time.Time) (OpeningHours, bool) {
	day, ok := f.Hours[strings.ToLower(f.Local(t).Weekday().String())]
	if !ok || day.Open == "" || day.Close == "" {
		return OpeningHours{}, false
	}
	return day, true
}

// IsOpen reports whether the office is staffed at t. Days without an
// entry are closed.
func (f Facility) IsOpen(t time.Time) bool {
	day, ok := f.HoursOn(t)
	if !ok {
		return false
	}
	hm := f.Local(t).Format("15:04")
	return day.Open <= hm && hm <= day.Close
}

// SeedFacility is the single facility the service answers for when no
// database is configured.
func SeedFacility() Facility {
	weekday := OpeningHours{Open: "09:00", Close: "18:00"}
	weekend := OpeningHours{Open: "10:00", Close: "16:00"}
	return Facility{
		Name:    "Storage Plus",
		Address: "123 Storage Lane",
		City:    "Springfield",
		State:   "IL",
		ZipCode: "62701",
		Phone:   "555-0123",
		Email:   "info@storageplus.com",
		Hours: map[string]OpeningHours{
			"monday":    weekday,
			"tuesday":   weekday,
			"wednesday": weekday,
			"thursday":  weekday,
			"friday":    weekday,
			"saturday":  weekend,
			"sunday":    weekend,
		},
		Amenities: []string{"24/7 Access", "Security Cameras", "Climate Control"},
		Timezone:  "America/Chicago",
	}
}

func SeedUnits() []Unit {
	return []Unit{
		{
			UnitID: "A101", Size: "5x5", SquareFeet: 25, Price: 49.99, Floor: 1,
			ClimateControlled: false, Available: true,
			Features: []string{"Ground Floor", "Drive Up"},
		},
		{
			UnitID: "B202", Size: "10x10", SquareFeet: 100, Price: 149.99, Floor: 2,
			ClimateControlled: true, Available: true,
			Features: []string{"Climate Control", "Indoor Access"},
		},
		{
			UnitID: "C303", Size: "10x15", SquareFeet: 150, Price: 199.99, Floor: 3,
			ClimateControlled: true, Available: false,
			Features: []string{"Climate Control", "Indoor Access", "Large Door"},
		},
	}
}
