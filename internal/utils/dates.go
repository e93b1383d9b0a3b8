package utils

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	// BackendDateLayout is the yyyy-MM-dd form the backend accepts.
	BackendDateLayout = "2006-01-02"
	// DisplayDateLayout is the dd-MM-yyyy form shown to and typed by users.
	DisplayDateLayout = "02-01-2006"
	// listDateLayout matches the leading "EEE, dd MMM yyyy" part of the
	// dates the list endpoint returns.
	listDateLayout = "Mon, 02 Jan 2006"
)

var ErrInvalidDate = errors.New("invalid date")

// ParseBackendDate accepts either yyyy-MM-dd or an RFC 1123 timestamp, which
// is how the backend serialises dates in row listings.
func ParseBackendDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDate
	}
	if t, err := time.Parse(BackendDateLayout, raw); err == nil {
		return t, nil
	}
	return parseListDate(raw)
}

func parseListDate(raw string) (time.Time, error) {
	if t, err := time.Parse(http.TimeFormat, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC1123Z, raw); err == nil {
		return t, nil
	}
	if len(raw) >= len(listDateLayout) {
		if t, err := time.Parse(listDateLayout, raw[:len(listDateLayout)]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidDate
}

// ParseDisplayDate parses dd-MM-yyyy strictly.
func ParseDisplayDate(raw string) (time.Time, error) {
	t, err := time.Parse(DisplayDateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// BackendToDisplay renders a backend date as dd-MM-yyyy, or "" when it cannot
// be parsed.
func BackendToDisplay(raw *string) string {
	if raw == nil {
		return ""
	}
	t, err := ParseBackendDate(*raw)
	if err != nil {
		return ""
	}
	return t.Format(DisplayDateLayout)
}

// DisplayToBackend converts user input to the yyyy-MM-dd form.
func DisplayToBackend(raw string) (string, error) {
	t, err := ParseDisplayDate(raw)
	if err != nil {
		return "", err
	}
	return t.Format(BackendDateLayout), nil
}

// FormatListDate renders a listing date as dd-MM-yyyy, "-" when missing or
// unparseable.
func FormatListDate(raw *string) string {
	if raw == nil {
		return "-"
	}
	t, err := ParseBackendDate(*raw)
	if err != nil {
		return "-"
	}
	return t.Format(DisplayDateLayout)
}
