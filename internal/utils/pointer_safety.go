package utils

import "time"

func Value[T any](v *T) T {
	if v == nil {
		return *new(T)
	}
	return *v
}

func Ptr[T any](v T) *T {
	return &v
}

// TimePtrUTC returns a pointer to t in UTC, or nil for the zero time.
func TimePtrUTC(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return Ptr(t.UTC())
}
