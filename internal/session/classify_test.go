package session

import (
	"errors"
	"reflect"
	"testing"
)

func TestClassifyKey(t *testing.T) {
	tests := []struct {
		key      string
		wantKind Kind
		wantArg  string
	}{
		{"userUnit0d", KindIgnored, ""},
		{"userUnitff1005", KindIgnored, ""},
		{"userShortName0d", KindShortName, "0d"},
		{"userFullName0d", KindFullName, "0d"},
		{"defaultUnit0d", KindDefaultUnit, "0d"},
		{"k0d", KindValue, "0d"},
		{"k5", KindValue, "05"},
		{"kff1005", KindValue, "ff1005"},
		{"k", KindUnknown, ""},
		{"kxyz", KindUnknown, ""},
		{"profileName", KindProfile, "Name"},
		{"profileFuelType", KindProfile, "FuelType"},
		{"eml", KindProfile, "email"},
		{"time", KindTime, ""},
		{"v", KindProfile, "version"},
		{"session", KindIgnored, ""},
		{"id", KindProfile, "id"},
		{"foo", KindUnknown, ""},
		{"Session", KindUnknown, ""},
		{"K0d", KindUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			kind, arg := ClassifyKey(tt.key)
			if kind != tt.wantKind {
				t.Errorf("ClassifyKey(%q) kind = %s, want %s", tt.key, kind, tt.wantKind)
			}
			if arg != tt.wantArg {
				t.Errorf("ClassifyKey(%q) arg = %q, want %q", tt.key, arg, tt.wantArg)
			}
		})
	}
}

func TestClassify_PopulatesRecord(t *testing.T) {
	s := NewStore(nil)
	pairs := []Pair{
		{"eml", "driver@example.com"},
		{"v", "9"},
		{"session", "S1"},
		{"id", "abc123"},
		{"time", "1700000000000"},
		{"profileName", "Civic"},
		{"userUnit0d", "mph"},
		{"userShortName0d", "Speed (OBD)"},
		{"userFullName0d", "Speed OBD"},
		{"defaultUnit0d", "km/h"},
		{"k0d", "100"},
		{"k5", "90"},
		{"mystery", "42"},
	}

	res, err := s.Classify("S1", pairs)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Session != "S1" {
		t.Errorf("Session = %q, want %q", res.Session, "S1")
	}
	if res.Known != 10 || res.Ignored != 2 || res.Unknown != 1 {
		t.Errorf("Result = %+v, want 10 known, 2 ignored, 1 unknown", res)
	}

	rec, ok := s.Snapshot("S1")
	if !ok {
		t.Fatal("Snapshot(S1) not found")
	}

	wantProfile := map[string]string{
		"email":   "driver@example.com",
		"version": "9",
		"id":      "abc123",
		"Name":    "Civic",
	}
	if !reflect.DeepEqual(rec.Profile, wantProfile) {
		t.Errorf("Profile = %v, want %v", rec.Profile, wantProfile)
	}
	if rec.Time != "1700000000000" {
		t.Errorf("Time = %q", rec.Time)
	}
	if rec.ShortName["0d"] != "Speed (OBD)" || rec.FullName["0d"] != "Speed OBD" {
		t.Errorf("names = %v / %v", rec.ShortName, rec.FullName)
	}
	if rec.DefaultUnit["0d"] != "km/h" {
		t.Errorf("DefaultUnit = %v", rec.DefaultUnit)
	}
	wantValues := map[string]string{"0d": "100", "05": "90"}
	if !reflect.DeepEqual(rec.Value, wantValues) {
		t.Errorf("Value = %v, want %v", rec.Value, wantValues)
	}
	if len(rec.Unit) != 0 {
		t.Errorf("Unit = %v, want empty", rec.Unit)
	}
	wantUnknown := []Pair{{"mystery", "42"}}
	if !reflect.DeepEqual(rec.Unknown, wantUnknown) {
		t.Errorf("Unknown = %v, want %v", rec.Unknown, wantUnknown)
	}
}

func TestClassify_MissingSession(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Classify("", []Pair{{"k0d", "1"}})
	if !errors.Is(err, ErrMissingSession) {
		t.Fatalf("Classify(\"\") error = %v, want ErrMissingSession", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestClassify_LastWriteWins(t *testing.T) {
	s := NewStore(nil)
	if _, err := s.Classify("S1", []Pair{{"k0d", "10"}, {"k0d", "20"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Classify("S1", []Pair{{"k0c", "900"}}); err != nil {
		t.Fatal(err)
	}

	rec, _ := s.Snapshot("S1")
	if rec.Value["0d"] != "20" {
		t.Errorf("Value[0d] = %q, want %q", rec.Value["0d"], "20")
	}
	if rec.Value["0c"] != "900" {
		t.Errorf("earlier fields should survive later uploads, got %v", rec.Value)
	}
}

func TestClassify_ReplayIsIdempotent(t *testing.T) {
	s := NewStore(nil)
	pairs := []Pair{
		{"session", "S1"},
		{"k0d", "100"},
		{"profileName", "Civic"},
		{"odd", "1"},
		{"odd", "2"},
	}

	if _, err := s.Classify("S1", pairs); err != nil {
		t.Fatal(err)
	}
	first, _ := s.Snapshot("S1")

	for range 3 {
		if _, err := s.Classify("S1", pairs); err != nil {
			t.Fatal(err)
		}
	}
	again, _ := s.Snapshot("S1")

	first.LastSeen = again.LastSeen
	if !reflect.DeepEqual(first, again) {
		t.Errorf("replay changed record:\nfirst = %+v\nagain = %+v", first, again)
	}
	if len(again.Unknown) != 2 {
		t.Errorf("Unknown = %v, want both distinct pairs kept", again.Unknown)
	}
}

func TestClassify_RepeatedUnknownWithinUpload(t *testing.T) {
	s := NewStore(nil)
	twice := []Pair{{"session", "S1"}, {"foo", "1"}, {"foo", "1"}}

	for range 2 {
		if _, err := s.Classify("S1", twice); err != nil {
			t.Fatal(err)
		}
	}
	rec, _ := s.Snapshot("S1")
	if len(rec.Unknown) != 2 {
		t.Fatalf("Unknown = %v, want foo=1 twice", rec.Unknown)
	}

	thrice := append(twice, Pair{"foo", "1"})
	if _, err := s.Classify("S1", thrice); err != nil {
		t.Fatal(err)
	}
	rec, _ = s.Snapshot("S1")
	if len(rec.Unknown) != 3 {
		t.Errorf("Unknown = %v, want foo=1 three times", rec.Unknown)
	}
}

func TestClassify_UnknownNeverOverwritesKnown(t *testing.T) {
	s := NewStore(nil)
	if _, err := s.Classify("S1", []Pair{{"k0d", "100"}, {"0d", "999"}}); err != nil {
		t.Fatal(err)
	}
	rec, _ := s.Snapshot("S1")
	if rec.Value["0d"] != "100" {
		t.Errorf("Value[0d] = %q, want 100", rec.Value["0d"])
	}
	if len(rec.Unknown) != 1 || rec.Unknown[0].Key != "0d" {
		t.Errorf("Unknown = %v", rec.Unknown)
	}
}
