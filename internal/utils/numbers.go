package utils

import (
	"strconv"
	"strings"
)

// FilterDecimalInput keeps only the characters allowed in an area field.
func FilterDecimalInput(s string) string {
	var b strings.Builder
	for _, ch := range s {
		if (ch >= '0' && ch <= '9') || ch == '.' || ch == ',' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// ParseKvadratmeter parses an area typed with either "." or "," as decimal
// separator. It returns nil when the text is not a number.
func ParseKvadratmeter(s string) *float32 {
	s = strings.ReplaceAll(FilterDecimalInput(s), ",", ".")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return nil
	}
	f := float32(v)
	return &f
}

// FormatKvadratmeter renders an area for an edit field.
func FormatKvadratmeter(v *float32) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(float64(*v), 'f', -1, 32)
}
