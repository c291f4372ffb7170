package session

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseQuery splits a raw query string into pairs, keeping the order the
// client sent them in. url.ParseQuery is not used because url.Values
// discards ordering between keys. Empty segments are skipped.
func ParseQuery(raw string) ([]Pair, error) {
	var pairs []Pair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("decode key %q: %w", k, err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("decode value for %q: %w", key, err)
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return pairs, nil
}

// ID returns the first session value in pairs, or "" if there is none.
func ID(pairs []Pair) string {
	for _, p := range pairs {
		if p.Key == "session" {
			return p.Value
		}
	}
	return ""
}
