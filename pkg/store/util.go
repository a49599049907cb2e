package store

import "time"

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func nullableTime(valid bool, value string) *time.Time {
	if !valid || value == "" {
		return nil
	}
	t := parseTime(value)
	return &t
}
