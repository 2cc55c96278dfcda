package appconfig

import (
	"encoding/json"
	"time"
)

// Duration is a time.Duration that marshals to/from its text form
// ("24h0m0s") instead of a raw nanosecond count, per the teacher's
// internal/config.Duration convention.
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// MarshalJSON renders the duration as its text form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string ("24h") or a raw
// nanosecond number, for config files hand-edited either way.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var nanos int64
	if err := json.Unmarshal(data, &nanos); err != nil {
		return err
	}
	*d = Duration(nanos)
	return nil
}
