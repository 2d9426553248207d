// Package environment reads botworker configuration from environment variables.
//
// Every helper returns a fallback instead of failing when a variable is unset
// or malformed, except Required which reports the missing name so main can
// decide how to exit.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StringOr returns the value of name, or fallback when it is unset or empty.
func StringOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// FirstOr returns the first non-empty value among names, or fallback.
// Used where a setting has both a current and a legacy variable name.
func FirstOr(fallback string, names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return fallback
}

// Required returns the value of name or an error naming the missing variable.
func Required(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// BoolOr parses name with strconv.ParseBool.
func BoolOr(name string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(name))
	if err != nil {
		return fallback
	}
	return b
}

// IntOr parses name as a base-10 integer.
func IntOr(name string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return fallback
	}
	return n
}

// Int64Or parses name as a base-10 64-bit integer.
func Int64Or(name string, fallback int64) int64 {
	n, err := strconv.ParseInt(os.Getenv(name), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// DurationOr parses name with time.ParseDuration ("30s", "5m").
func DurationOr(name string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(name))
	if err != nil {
		return fallback
	}
	return d
}
