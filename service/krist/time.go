package krist

import (
	"encoding/json"
	"time"
)

// isoMillis is the timestamp layout the legacy API emits everywhere.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Timestamp marshals as the legacy ISO-8601 millisecond format in UTC.
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(isoMillis))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(isoMillis, s)
	if err != nil {
		// Fall back to RFC3339 for clients that send offsets.
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}
	*t = Timestamp(parsed)
	return nil
}

// ISOTime formats a time the way the legacy API does.
func ISOTime(t time.Time) string {
	return t.UTC().Format(isoMillis)
}
