// Package obd holds the built-in descriptions of the OBD-II parameters
// Torque reports most often. They are used only when a session has not
// declared its own names or units for a field code.
package obd

// PID describes one diagnostic parameter.
type PID struct {
	Code      string
	ShortName string
	FullName  string
	Unit      string
}

var pids = []PID{
	{Code: "04", ShortName: "engine_load", FullName: "Engine Load", Unit: "%"},
	{Code: "05", ShortName: "coolant_temp", FullName: "Coolant Temperature", Unit: "°C"},
	{Code: "0c", ShortName: "engine_rpm", FullName: "Engine RPM", Unit: "rpm"},
	{Code: "0d", ShortName: "speed", FullName: "Vehicle Speed", Unit: "km/h"},
	{Code: "0f", ShortName: "intake_temp", FullName: "Intake Air Temperature", Unit: "°C"},
	{Code: "11", ShortName: "throttle_pos", FullName: "Throttle Position", Unit: "%"},
	{Code: "1f", ShortName: "run_since_start", FullName: "Distance Since Engine Start", Unit: "km"},
	{Code: "21", ShortName: "dis_mil_on", FullName: "Distance with MIL on", Unit: "km"},
	{Code: "2f", ShortName: "fuel", FullName: "Fuel Level", Unit: "%"},
	{Code: "31", ShortName: "dis_mil_off", FullName: "Distance with MIL off", Unit: "km"},
}

var byCode = func() map[string]PID {
	m := make(map[string]PID, len(pids))
	for _, p := range pids {
		m[p.Code] = p
	}
	return m
}()

// Lookup returns the built-in description of code.
func Lookup(code string) (PID, bool) {
	p, ok := byCode[code]
	return p, ok
}

// Unit returns the assumed unit for code, or "" when unknown.
func Unit(code string) (string, bool) {
	p, ok := byCode[code]
	return p.Unit, ok
}

// ShortName returns the assumed machine name for code.
func ShortName(code string) (string, bool) {
	p, ok := byCode[code]
	return p.ShortName, ok
}

// FullName returns the assumed human name for code.
func FullName(code string) (string, bool) {
	p, ok := byCode[code]
	return p.FullName, ok
}

// All returns the built-in table in code order.
func All() []PID {
	out := make([]PID, len(pids))
	copy(out, pids)
	return out
}
