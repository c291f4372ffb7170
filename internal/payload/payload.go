// Package payload turns a session record into the message published for
// it: display names and units are resolved, values optionally converted to
// imperial units, and the result keyed by a slugified short name.
package payload

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nugget/torque2mqtt/internal/obd"
	"github.com/nugget/torque2mqtt/internal/session"
	"github.com/nugget/torque2mqtt/internal/units"
)

// Format selects how much of the record goes into a message.
type Format string

const (
	// FormatJSON is the full message delivered to the broker, with
	// profile and per-field metadata.
	FormatJSON Format = "json"
	// FormatRaw carries only values and time. It is meant for local
	// diagnostic logging and is never sent to the broker.
	FormatRaw Format = "raw"
)

var slugReplacer = strings.NewReplacer("(", " ", ")", " ")

// Slugify lowercases s, turns parentheses into spaces, trims surrounding
// whitespace and joins the remaining words with underscores.
func Slugify(s string) string {
	s = slugReplacer.Replace(strings.ToLower(s))
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
}

// Field is one resolved telemetry field.
type Field struct {
	Code      string
	Name      string
	ShortName string
	Unit      string
	Value     any
}

// Meta describes a published field for consumers that want labels.
type Meta struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// Message is the assembled payload. Field short names are top-level keys
// next to "time" and, in JSON format, "profile" and "meta".
type Message map[string]any

// Resolver resolves field metadata against a session's declared names and
// the built-in tables.
type Resolver struct {
	imperial bool
	logger   *slog.Logger
}

// NewResolver creates a Resolver. When imperial is set, fields measured in
// km, km/h, m or °C are converted before publishing.
func NewResolver(imperial bool, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{imperial: imperial, logger: logger}
}

// Field resolves code against rec. Names and unit come from the session
// first, then the built-in table. Names fall back to the code itself and
// the unit to "".
func (r *Resolver) Field(rec *session.Record, code string) Field {
	name, ok := rec.FullName[code]
	if !ok {
		if name, ok = obd.FullName(code); !ok {
			name = code
		}
	}
	short, ok := rec.ShortName[code]
	if !ok {
		if short, ok = obd.ShortName(code); !ok {
			short = code
		}
	}
	unit, ok := rec.DefaultUnit[code]
	if !ok {
		unit, _ = obd.Unit(code)
	}

	raw := rec.Value[code]
	f := Field{
		Code:      code,
		Name:      name,
		ShortName: Slugify(short),
		Unit:      unit,
		Value:     Coerce(raw),
	}

	if !r.imperial {
		return f
	}
	target, ok := units.ImperialFor(unit)
	if !ok {
		return f
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.logger.Debug("imperial conversion skipped, value is not numeric",
			"code", code, "value", raw)
		return f
	}
	q, err := units.PrettyConvert(v, unit, target)
	if err != nil {
		r.logger.Debug("imperial conversion failed", "code", code, "unit", unit, "error", err)
		return f
	}
	f.Value = q.Value
	f.Unit = q.Unit
	return f
}

// Coerce returns raw as a json.Number when it is a well-formed JSON
// number, keeping its exact digits, and as a string otherwise.
func Coerce(raw string) any {
	if raw == "" || raw != strings.TrimSpace(raw) {
		return raw
	}
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return raw
	}
	if !json.Valid([]byte(raw)) {
		return raw
	}
	return json.Number(raw)
}

// Topic returns the topic a session publishes to: prefix, a slash, and the
// slugified profile Name, email, or session id, whichever is first set.
func Topic(prefix string, rec *session.Record, id string) string {
	name := id
	if v := rec.Profile["Name"]; v != "" {
		name = v
	} else if v := rec.Profile["email"]; v != "" {
		name = v
	}
	return prefix + "/" + Slugify(name)
}

// Assemble builds the message for rec. Every field with a value appears
// under its short name. JSON format adds the profile and a meta map of
// short name to display name and unit.
func (r *Resolver) Assemble(rec *session.Record, format Format) Message {
	msg := Message{}
	if rec.Time != "" {
		msg["time"] = Coerce(rec.Time)
	} else {
		msg["time"] = json.Number("0")
	}

	meta := make(map[string]Meta, len(rec.Value))
	for _, code := range rec.Codes() {
		f := r.Field(rec, code)
		msg[f.ShortName] = f.Value
		meta[f.ShortName] = Meta{Name: f.Name, Unit: f.Unit}
	}

	if format == FormatJSON {
		profile := make(map[string]string, len(rec.Profile))
		for k, v := range rec.Profile {
			profile[k] = v
		}
		msg["profile"] = profile
		msg["meta"] = meta
	}
	return msg
}
