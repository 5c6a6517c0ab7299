package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/antoniostano/storageagent/internal/intent"
	"github.com/antoniostano/storageagent/internal/storage"
)

// UnitLookup is the availability collaborator responders consult.
// storage.Store satisfies it.
type UnitLookup interface {
	AvailableUnits(ctx context.Context, size string) ([]storage.Unit, error)
}

// FacilityLookup is implemented by lookups that also know the facility.
// storage.Store does.
type FacilityLookup interface {
	Facility(ctx context.Context) (storage.Facility, error)
}

// Reply is what a responder hands back to the engine.
type Reply struct {
	Text string
	// Preferences are recorded on the context after the turn.
	Preferences map[string]string
	// LookupErr is set when the reply was degraded because the unit lookup
	// failed.
	LookupErr error
}

// Responder produces the next prompt for one intent. The context is
// read-only; state changes travel back in the Reply.
type Responder func(ctx context.Context, c *Context, units UnitLookup) Reply

// Registry maps intents to responders. Intents without an entry use the
// general responder.
type Registry map[intent.Intent]Responder

const (
	maxFeatures        = 2
	maxAlternatives    = 2
	maxListedSizes     = 3
	scriptNoUnits      = "I'm sorry, we don't have any units available at the moment. May I take your contact information so we can call you as soon as one opens up?"
	scriptInformation  = "We offer climate-controlled storage units with 24/7 access, state-of-the-art security, and flexible lease terms. What specific information would you like to know more about?"
	scriptHours        = "Our office is open Monday through Friday from 9 AM to 6 PM, and Saturday and Sunday from 10 AM to 4 PM. Tenants have 24/7 access to their units using their secure entry code."
	scriptLocation     = "We're conveniently located at 123 Storage Lane in Springfield. Would you like directions, or would you prefer me to text them to you?"
	scriptPayment      = "We accept all major credit cards, and you can pay online, in person, or set up automatic payments. Would you like information about any specific payment method?"
	scriptGeneral      = "I can help you with unit availability, pricing, facility information, hours, location, or payment options. What would you like to know more about?"
	scriptAskSize      = "Our prices depend on the unit size. Which size are you interested in?"
	scriptAskSizeOffer = "Which size would you like to know more about?"
	scriptAskDuration  = "How many months would you need it for?"
	scriptApology      = "I'm sorry, I had trouble with that. " + scriptGeneral
)

// Static returns a responder that always speaks text.
func Static(text string) Responder {
	return func(context.Context, *Context, UnitLookup) Reply {
		return Reply{Text: text}
	}
}

// DefaultRegistry wires the built-in scripts.
func DefaultRegistry() Registry {
	return Registry{
		intent.Availability: Availability,
		intent.Pricing:      Pricing,
		intent.Information:  Static(scriptInformation),
		intent.Hours:        Hours,
		intent.Location:     Static(scriptLocation),
		intent.Payment:      Static(scriptPayment),
		intent.General:      Static(scriptGeneral),
	}
}

func (r Registry) responderFor(i intent.Intent) Responder {
	if fn, ok := r[i]; ok && fn != nil {
		return fn
	}
	if fn, ok := r[intent.General]; ok && fn != nil {
		return fn
	}
	return Static(scriptGeneral)
}

// Availability answers for the size the caller asked about, or lists what
// is on offer when no size is known yet.
func Availability(ctx context.Context, c *Context, units UnitLookup) Reply {
	size, ok := c.UnitSize()
	if !ok {
		all, err := lookup(ctx, units, "")
		if err != nil {
			return Reply{Text: scriptNoUnits, LookupErr: err}
		}
		if len(all) == 0 {
			return Reply{Text: scriptNoUnits}
		}
		return Reply{Text: fmt.Sprintf("We currently have %s per month. %s",
			joinSpoken(sizeOffers(all, maxListedSizes)), scriptAskSizeOffer)}
	}

	want := size.Value()
	matches, err := lookup(ctx, units, want)
	if err != nil {
		return Reply{Text: scriptNoUnits, LookupErr: err}
	}
	if len(matches) > 0 {
		u := matches[0]
		text := fmt.Sprintf("Great news! We have a %s unit available for $%.2f per month.", u.Size, u.Price)
		if features := truncate(u.Features, maxFeatures); len(features) > 0 {
			text += fmt.Sprintf(" It features %s.", joinSpoken(features))
		}
		text += " Would you like to reserve it?"
		return Reply{
			Text:        text,
			Preferences: map[string]string{PrefUnitSize: u.Size},
		}
	}

	all, err := lookup(ctx, units, "")
	if err != nil {
		return Reply{Text: scriptNoUnits, LookupErr: err}
	}
	alternatives := distinctSizes(all, maxAlternatives)
	if len(alternatives) == 0 {
		return Reply{Text: scriptNoUnits}
	}
	return Reply{Text: fmt.Sprintf(
		"I'm sorry, we don't have any %s units available right now. We do have %s units available. Would you like to hear more about one of those?",
		want, joinSpoken(alternatives),
	)}
}

// Pricing quotes a total for the requested duration, or asks for a size
// first. The size the caller already settled on is quoted before the
// cheapest unit.
func Pricing(ctx context.Context, c *Context, units UnitLookup) Reply {
	preferred := c.UserPreferences[PrefUnitSize]
	d, ok := c.Duration()
	if !ok {
		if preferred != "" {
			if matches, err := lookup(ctx, units, preferred); err == nil && len(matches) > 0 {
				u := matches[0]
				return Reply{Text: fmt.Sprintf("Our %s unit is $%.2f per month. %s", u.Size, u.Price, scriptAskDuration)}
			}
		}
		all, err := lookup(ctx, units, "")
		if err != nil || len(all) == 0 {
			return Reply{Text: scriptAskSize, LookupErr: err}
		}
		return Reply{Text: fmt.Sprintf("Our prices depend on the unit size. We have %s per month. Which size are you interested in?",
			joinSpoken(sizeOffers(all, maxListedSizes)))}
	}

	all, err := lookup(ctx, units, "")
	if err != nil {
		return Reply{Text: scriptNoUnits, LookupErr: err}
	}
	if len(all) == 0 {
		return Reply{Text: scriptNoUnits}
	}
	quoted := all[0]
	for _, u := range all {
		if preferred != "" && strings.EqualFold(u.Size, preferred) {
			quoted = u
			break
		}
	}
	total := quoted.Price * float64(d.Amount)
	return Reply{Text: fmt.Sprintf(
		"For %s, our %s unit at $%.2f per month would come to $%.2f in total. Would you like to reserve it?",
		d.Value(), quoted.Size, quoted.Price, total,
	)}
}

// Hours reads out the office hours, opening with whether the office is
// staffed at the time of the turn when the facility is known.
func Hours(ctx context.Context, c *Context, units UnitLookup) Reply {
	facilities, ok := units.(FacilityLookup)
	if !ok {
		return Reply{Text: scriptHours}
	}
	f, err := facilities.Facility(ctx)
	if err != nil {
		return Reply{Text: scriptHours, LookupErr: err}
	}
	at := c.LastUpdate
	if day, ok := f.HoursOn(at); ok && f.IsOpen(at) {
		return Reply{Text: fmt.Sprintf("We're open right now until %s today. %s", spokenClock(day.Close), scriptHours)}
	}
	return Reply{Text: "We're closed right now. " + scriptHours}
}

// spokenClock renders "18:00" as "6 PM" and "09:30" as "9:30 AM".
func spokenClock(hm string) string {
	t, err := time.Parse("15:04", hm)
	if err != nil {
		return hm
	}
	if t.Minute() == 0 {
		return t.Format("3 PM")
	}
	return t.Format("3:04 PM")
}

// lookup returns available units cheapest first.
func lookup(ctx context.Context, units UnitLookup, size string) ([]storage.Unit, error) {
	if units == nil {
		return nil, nil
	}
	list, err := units.AvailableUnits(ctx, size)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Price < list[j].Price })
	return list, nil
}

func distinctSizes(units []storage.Unit, limit int) []string {
	seen := make(map[string]bool, len(units))
	out := make([]string, 0, limit)
	for _, u := range units {
		if len(out) == limit {
			break
		}
		if seen[u.Size] {
			continue
		}
		seen[u.Size] = true
		out = append(out, u.Size)
	}
	return out
}

// sizeOffers renders "5x5 units from $49.99" for each distinct size,
// quoting its cheapest price.
func sizeOffers(units []storage.Unit, limit int) []string {
	seen := make(map[string]bool, len(units))
	out := make([]string, 0, limit)
	for _, u := range units {
		if len(out) == limit {
			break
		}
		if seen[u.Size] {
			continue
		}
		seen[u.Size] = true
		out = append(out, fmt.Sprintf("%s units from $%.2f", u.Size, u.Price))
	}
	return out
}

func truncate(items []string, limit int) []string {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

// joinSpoken joins items the way they are read aloud: "a", "a and b",
// "a, b and c".
func joinSpoken(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}
