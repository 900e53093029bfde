package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// Field constructors for data access logging.

// Provider adds a provider field.
func Provider(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("provider", name)
	}
}

// CacheKey adds a cache key field.
func CacheKey(key string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("key", key)
	}
}

// Tier adds a cache tier field.
func Tier(tier string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("tier", tier)
	}
}

// Sport adds a sport field.
func Sport(sport string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("sport", sport)
	}
}

// DataType adds a data type field.
func DataType(dt string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("data_type", dt)
	}
}

// FetchID adds a fetch ID field.
func FetchID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("fetch_id", id)
	}
}

// FromState adds a from_state field for circuit transitions.
func FromState(s string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("from_state", s)
	}
}

// ToState adds a to_state field for circuit transitions.
func ToState(s string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("to_state", s)
	}
}

// Attempt adds a retry attempt field.
func Attempt(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("attempt", n)
	}
}

// WaitTime adds a wait time field in milliseconds.
func WaitTime(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("wait_ms", d.Milliseconds())
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// Reason adds a reason field.
func Reason(reason string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("reason", reason)
	}
}

// Count adds a count field.
func Count(n int64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("count", n)
	}
}

// Job adds a scheduler job field.
func Job(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("job", name)
	}
}

// Str adds a string field with a custom key.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}
