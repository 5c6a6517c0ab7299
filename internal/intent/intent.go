package intent

// Intent is the classified purpose of one caller turn.
type Intent string

const (
	Availability Intent = "availability"
	Pricing      Intent = "pricing"
	Information  Intent = "information"
	Hours        Intent = "hours"
	Location     Intent = "location"
	Payment      Intent = "payment"
	General      Intent = "general_inquiry"
	Unknown      Intent = "unknown"
)

// All lists every intent in priority order. Keyword ties resolve to the
// earliest entry.
var All = []Intent{Availability, Pricing, Information, Hours, Location, Payment, General, Unknown}

func (i Intent) String() string { return string(i) }

func (i Intent) Valid() bool {
	for _, v := range All {
		if v == i {
			return true
		}
	}
	return false
}
