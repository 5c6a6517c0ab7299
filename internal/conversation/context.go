package conversation

import (
	"time"

	"github.com/antoniostano/storageagent/internal/entities"
	"github.com/antoniostano/storageagent/internal/intent"
)

// Preference keys recorded on a context.
const (
	PrefUnitSize = "unit_size"
)

// Context is the per-call conversation state. The engine owns the live copy;
// everything handed out is a snapshot.
type Context struct {
	SessionID       string                     `json:"session_id"`
	CallerPhone     string                     `json:"caller_phone,omitempty"`
	StartTime       time.Time                  `json:"start_time"`
	LastUpdate      time.Time                  `json:"last_update"`
	TurnCount       int                        `json:"turn_count"`
	CurrentIntent   intent.Intent              `json:"current_intent"`
	PreviousIntents []intent.Intent            `json:"previous_intents"`
	Entities        map[string]entities.Entity `json:"entities"`
	UserPreferences map[string]string          `json:"user_preferences"`
}

func newContext(sessionID string, now time.Time) *Context {
	return &Context{
		SessionID:       sessionID,
		StartTime:       now,
		LastUpdate:      now,
		CurrentIntent:   intent.Unknown,
		PreviousIntents: []intent.Intent{},
		Entities:        make(map[string]entities.Entity),
		UserPreferences: make(map[string]string),
	}
}

// updateIntent counts a turn even when the intent repeats. The initial
// unknown is never recorded as history.
func (c *Context) updateIntent(i intent.Intent, now time.Time) {
	if c.CurrentIntent != intent.Unknown {
		c.PreviousIntents = append(c.PreviousIntents, c.CurrentIntent)
	}
	c.CurrentIntent = i
	c.LastUpdate = now
	c.TurnCount++
}

func (c *Context) addEntity(e entities.Entity, now time.Time) {
	if e == nil {
		return
	}
	c.Entities[e.Type()] = e
	c.LastUpdate = now
}

func (c *Context) setPreference(key, value string, now time.Time) {
	c.UserPreferences[key] = value
	c.LastUpdate = now
}

// UnitSize returns the most recent unit size the caller mentioned.
func (c *Context) UnitSize() (entities.UnitSize, bool) {
	us, ok := c.Entities[entities.TypeUnitSize].(entities.UnitSize)
	return us, ok
}

// Duration returns the most recent rental duration the caller mentioned.
func (c *Context) Duration() (entities.Duration, bool) {
	d, ok := c.Entities[entities.TypeDuration].(entities.Duration)
	return d, ok
}

// Snapshot returns a deep copy safe to hand to other goroutines. Entity
// variants are values, so copying the map is enough.
func (c *Context) Snapshot() Context {
	out := *c
	out.PreviousIntents = append([]intent.Intent{}, c.PreviousIntents...)
	out.Entities = make(map[string]entities.Entity, len(c.Entities))
	for k, v := range c.Entities {
		out.Entities[k] = v
	}
	out.UserPreferences = make(map[string]string, len(c.UserPreferences))
	for k, v := range c.UserPreferences {
		out.UserPreferences[k] = v
	}
	return out
}
