// Package units converts dimensional quantities between the metric units
// Torque reports and the imperial units some dashboards prefer.
//
// Two vocabularies are in play. Canonical names ("degC", "kilometer / hour")
// are what the conversion engine understands. Pretty names ("°C", "km/h")
// are what Torque sends and what ends up in published payloads. [Prettify]
// and [Unprettify] translate between them; names missing from the table pass
// through unchanged.
package units

import (
	"errors"
	"fmt"
	"math"

	"github.com/martinlindhe/unit"
)

var (
	// ErrUnknownUnit is returned when a unit name is not in the registry.
	ErrUnknownUnit = errors.New("unknown unit")

	// ErrUnitMismatch is returned when converting between units of
	// different dimensions (for example km/h to °C).
	ErrUnitMismatch = errors.New("unit mismatch")
)

type dimension int

const (
	dimLength dimension = iota + 1
	dimSpeed
	dimTemperature
)

func (d dimension) String() string {
	switch d {
	case dimLength:
		return "length"
	case dimSpeed:
		return "speed"
	case dimTemperature:
		return "temperature"
	default:
		return "unknown"
	}
}

// unitDef moves a magnitude into and out of the library's base
// representation for its dimension.
type unitDef struct {
	canonical string
	dim       dimension
	toBase    func(float64) float64
	fromBase  func(float64) float64
}

func length(name string, u unit.Length, in func(unit.Length) float64) unitDef {
	return unitDef{
		canonical: name,
		dim:       dimLength,
		toBase:    func(v float64) float64 { return float64(unit.Length(v) * u) },
		fromBase:  func(b float64) float64 { return in(unit.Length(b)) },
	}
}

func speed(name string, u unit.Speed, in func(unit.Speed) float64) unitDef {
	return unitDef{
		canonical: name,
		dim:       dimSpeed,
		toBase:    func(v float64) float64 { return float64(unit.Speed(v) * u) },
		fromBase:  func(b float64) float64 { return in(unit.Speed(b)) },
	}
}

func temperature(name string, from func(float64) unit.Temperature, in func(unit.Temperature) float64) unitDef {
	return unitDef{
		canonical: name,
		dim:       dimTemperature,
		toBase:    func(v float64) float64 { return float64(from(v)) },
		fromBase:  func(b float64) float64 { return in(unit.Temperature(b)) },
	}
}

var definitions = []unitDef{
	length("meter", unit.Meter, unit.Length.Meters),
	length("kilometer", unit.Kilometer, unit.Length.Kilometers),
	length("foot", unit.Foot, unit.Length.Feet),
	length("mile", unit.Mile, unit.Length.Miles),

	speed("meter / second", unit.MetersPerSecond, unit.Speed.MetersPerSecond),
	speed("kilometer / hour", unit.KilometersPerHour, unit.Speed.KilometersPerHour),
	speed("mile / hour", unit.MilesPerHour, unit.Speed.MilesPerHour),

	temperature("kelvin", unit.FromKelvin, unit.Temperature.Kelvin),
	temperature("degC", unit.FromCelsius, unit.Temperature.Celsius),
	temperature("degF", unit.FromFahrenheit, unit.Temperature.Fahrenheit),
}

// aliases are additional spellings accepted by Convert. They resolve to
// the canonical definition and results are always reported canonically.
var aliases = map[string]string{
	"m":      "meter",
	"km":     "kilometer",
	"ft":     "foot",
	"mi":     "mile",
	"m/s":    "meter / second",
	"km/h":   "kilometer / hour",
	"kph":    "kilometer / hour",
	"mph":    "mile / hour",
	"K":      "kelvin",
	"degK":   "kelvin",
	"meters": "meter",
}

var registry = func() map[string]unitDef {
	m := make(map[string]unitDef, len(definitions)+len(aliases))
	for _, d := range definitions {
		m[d.canonical] = d
	}
	for alias, canonical := range aliases {
		m[alias] = m[canonical]
	}
	return m
}()

// Quantity is a magnitude paired with the unit it is expressed in.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

func lookup(name string) (unitDef, error) {
	d, ok := registry[name]
	if !ok {
		return unitDef{}, fmt.Errorf("%w: %q", ErrUnknownUnit, name)
	}
	return d, nil
}

// Convert expresses value (in unitIn) in unitOut. Both units must be known
// and share a dimension. The result is rounded to two decimal places and
// carries the canonical name of unitOut.
func Convert(value float64, unitIn, unitOut string) (Quantity, error) {
	in, err := lookup(unitIn)
	if err != nil {
		return Quantity{}, err
	}
	out, err := lookup(unitOut)
	if err != nil {
		return Quantity{}, err
	}
	if in.dim != out.dim {
		return Quantity{}, fmt.Errorf("%w: cannot convert %s (%s) to %s (%s)",
			ErrUnitMismatch, unitIn, in.dim, unitOut, out.dim)
	}

	return Quantity{
		Value: round2(out.fromBase(in.toBase(value))),
		Unit:  out.canonical,
	}, nil
}

// PrettyConvert is Convert for display names: both units are unprettified,
// converted, and the resulting unit is prettified again.
func PrettyConvert(value float64, unitIn, unitOut string) (Quantity, error) {
	q, err := Convert(value, Unprettify(unitIn), Unprettify(unitOut))
	if err != nil {
		return Quantity{}, err
	}
	q.Unit = Prettify(q.Unit)
	return q, nil
}

// round2 rounds to hundredths and folds -0 into 0.
func round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0
	}
	return r
}
