package session

import "strings"

// Kind is the classification of a single upload key.
type Kind int

const (
	KindUnknown Kind = iota
	KindIgnored
	KindShortName
	KindFullName
	KindDefaultUnit
	KindValue
	KindProfile
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindIgnored:
		return "ignored"
	case KindShortName:
		return "short_name"
	case KindFullName:
		return "full_name"
	case KindDefaultUnit:
		return "default_unit"
	case KindValue:
		return "value"
	case KindProfile:
		return "profile"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// rule matches a key and yields the argument its action is applied with
// (a field code, a profile attribute, or nothing).
type rule struct {
	kind  Kind
	match func(key string) (string, bool)
}

func prefix(p string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		return strings.CutPrefix(key, p)
	}
}

// dropPrefix matches like prefix but yields no argument.
func dropPrefix(p string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		return "", strings.HasPrefix(key, p)
	}
}

func exact(k, arg string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		return arg, key == k
	}
}

// fieldCode matches "k" followed by hex digits. Single digit codes are
// zero-padded so "k5" and "k05" address the same field.
func fieldCode(key string) (string, bool) {
	code, ok := strings.CutPrefix(key, "k")
	if !ok || code == "" {
		return "", false
	}
	for _, c := range code {
		if !isHex(c) {
			return "", false
		}
	}
	if len(code) == 1 {
		code = "0" + code
	}
	return code, true
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{KindIgnored, dropPrefix("userUnit")},
	{KindShortName, prefix("userShortName")},
	{KindFullName, prefix("userFullName")},
	{KindDefaultUnit, prefix("defaultUnit")},
	{KindValue, fieldCode},
	{KindProfile, prefix("profile")},
	{KindProfile, exact("eml", "email")},
	{KindTime, exact("time", "")},
	{KindProfile, exact("v", "version")},
	{KindIgnored, exact("session", "")},
	{KindProfile, exact("id", "id")},
}

// ClassifyKey reports how key is handled and the argument extracted from
// it. Keys that match no rule are KindUnknown.
func ClassifyKey(key string) (Kind, string) {
	for _, r := range rules {
		if arg, ok := r.match(key); ok {
			return r.kind, arg
		}
	}
	return KindUnknown, ""
}

// Result summarizes one classified upload.
type Result struct {
	Session string
	Known   int
	Ignored int
	Unknown int
}

// Classify applies an upload to the session's record, creating the record
// if this is the first time id has been seen. Every pair lands either in a
// known field or in Unknown. A pair repeated within one upload is kept
// each time, but replaying an identical upload leaves the record unchanged.
func (s *Store) Classify(id string, pairs []Pair) (Result, error) {
	if id == "" {
		return Result{}, ErrMissingSession
	}

	res := Result{Session: id}
	s.update(id, func(e *entry) {
		r := &e.rec
		var repeats map[Pair]int
		for _, p := range pairs {
			kind, arg := ClassifyKey(p.Key)
			switch kind {
			case KindIgnored:
				res.Ignored++
				continue
			case KindShortName:
				r.ShortName[arg] = p.Value
			case KindFullName:
				r.FullName[arg] = p.Value
			case KindDefaultUnit:
				r.DefaultUnit[arg] = p.Value
			case KindValue:
				r.Value[arg] = p.Value
			case KindProfile:
				r.Profile[arg] = p.Value
			case KindTime:
				r.Time = p.Value
			default:
				res.Unknown++
				if repeats == nil {
					repeats = make(map[Pair]int)
				}
				repeats[p]++
				if repeats[p] > e.seen[p] {
					e.seen[p] = repeats[p]
					r.Unknown = append(r.Unknown, p)
				}
				continue
			}
			res.Known++
		}
	})

	s.logger.Debug("upload classified",
		"session", id,
		"known", res.Known,
		"ignored", res.Ignored,
		"unknown", res.Unknown,
	)
	return res, nil
}
