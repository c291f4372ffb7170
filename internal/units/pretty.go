package units

// prettyNames maps canonical unit names to the symbols Torque and
// dashboards use.
var prettyNames = map[string]string{
	"degC":             "°C",
	"degF":             "°F",
	"mile / hour":      "mph",
	"kilometer / hour": "km/h",
	"mile":             "mi",
	"kilometer":        "km",
	"meter":            "m",
	"foot":             "ft",
	"kilopascal":       "kPa",
	"liter":            "L",
	"gallon":           "gal",
}

var uglyNames = func() map[string]string {
	m := make(map[string]string, len(prettyNames))
	for canonical, pretty := range prettyNames {
		m[pretty] = canonical
	}
	return m
}()

// imperialNames is keyed by canonical metric unit. Only these four
// attributes are shown differently when imperial display is on.
var imperialNames = map[string]string{
	"kilometer":        "mile",
	"degC":             "degF",
	"kilometer / hour": "mile / hour",
	"meter":            "foot",
}

// Prettify returns the display symbol for a canonical unit, or the input
// unchanged when there is none.
func Prettify(unit string) string {
	if p, ok := prettyNames[unit]; ok {
		return p
	}
	return unit
}

// Unprettify is the inverse of Prettify. Unknown symbols pass through.
func Unprettify(unit string) string {
	if c, ok := uglyNames[unit]; ok {
		return c
	}
	return unit
}

// Imperial returns the canonical imperial counterpart of a canonical
// metric unit.
func Imperial(unit string) (string, bool) {
	u, ok := imperialNames[unit]
	return u, ok
}

// ImperialFor is Imperial for display names: "km/h" yields "mph". Only
// display symbols match; a canonical name such as "kilometer / hour" does
// not.
func ImperialFor(pretty string) (string, bool) {
	canonical, ok := uglyNames[pretty]
	if !ok {
		return "", false
	}
	u, ok := imperialNames[canonical]
	if !ok {
		return "", false
	}
	return Prettify(u), true
}

// ImperialPairs returns the metric/imperial display pairs, used by
// callers that need to enumerate what imperial mode changes.
func ImperialPairs() map[string]string {
	out := make(map[string]string, len(imperialNames))
	for metric, imperial := range imperialNames {
		out[Prettify(metric)] = Prettify(imperial)
	}
	return out
}
