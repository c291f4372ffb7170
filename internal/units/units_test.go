package units

import (
	"errors"
	"math"
	"testing"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		in, out  string
		want     float64
		wantUnit string
	}{
		{"speed km/h to mph", 100, "kilometer / hour", "mile / hour", 62.14, "mile / hour"},
		{"speed alias", 100, "km/h", "mph", 62.14, "mile / hour"},
		{"coolant to fahrenheit", 90, "degC", "degF", 194, "degF"},
		{"freezing", 32, "degF", "degC", 0, "degC"},
		{"kelvin", 0, "degC", "kelvin", 273.15, "kelvin"},
		{"distance", 10, "kilometer", "mile", 6.21, "mile"},
		{"altitude", 100, "meter", "foot", 328.08, "foot"},
		{"walking pace", 1, "m/s", "km/h", 3.6, "kilometer / hour"},
		{"identity", 42.424, "km", "km", 42.42, "kilometer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.value, tt.in, tt.out)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if got.Value != tt.want {
				t.Errorf("Convert() value = %v, want %v", got.Value, tt.want)
			}
			if got.Unit != tt.wantUnit {
				t.Errorf("Convert() unit = %q, want %q", got.Unit, tt.wantUnit)
			}
		})
	}
}

func TestConvert_Mismatch(t *testing.T) {
	_, err := Convert(1, "km/h", "degC")
	if !errors.Is(err, ErrUnitMismatch) {
		t.Fatalf("Convert(km/h, degC) error = %v, want ErrUnitMismatch", err)
	}
}

func TestConvert_Unknown(t *testing.T) {
	for _, pair := range [][2]string{{"furlong", "km"}, {"km", "furlong"}, {"kPa", "psi"}} {
		_, err := Convert(1, pair[0], pair[1])
		if !errors.Is(err, ErrUnknownUnit) {
			t.Errorf("Convert(%s, %s) error = %v, want ErrUnknownUnit", pair[0], pair[1], err)
		}
	}
}

func TestConvert_NoNegativeZero(t *testing.T) {
	got, err := Convert(32, "degF", "degC")
	if err != nil {
		t.Fatal(err)
	}
	if math.Signbit(got.Value) {
		t.Errorf("Convert(32 degF) = %v, want +0", got.Value)
	}
}

func TestPrettyConvert(t *testing.T) {
	got, err := PrettyConvert(100, "km/h", "mph")
	if err != nil {
		t.Fatalf("PrettyConvert() error = %v", err)
	}
	if got.Value != 62.14 || got.Unit != "mph" {
		t.Errorf("PrettyConvert() = %+v, want {62.14 mph}", got)
	}

	got, err = PrettyConvert(90, "°C", "°F")
	if err != nil {
		t.Fatalf("PrettyConvert() error = %v", err)
	}
	if got.Value != 194 || got.Unit != "°F" {
		t.Errorf("PrettyConvert() = %+v, want {194 °F}", got)
	}
}

func TestPrettyConvert_RoundTrip(t *testing.T) {
	values := []float64{-40, 0, 0.5, 13.37, 90, 100, 120, 255, 1234.56}
	for metric, imperial := range ImperialPairs() {
		for _, v := range values {
			there, err := PrettyConvert(v, metric, imperial)
			if err != nil {
				t.Fatalf("PrettyConvert(%v, %s, %s) error = %v", v, metric, imperial, err)
			}
			back, err := PrettyConvert(there.Value, imperial, metric)
			if err != nil {
				t.Fatalf("PrettyConvert(%v, %s, %s) error = %v", there.Value, imperial, metric, err)
			}
			// Inputs carry two decimals, so the double rounding can
			// move the result by at most one hundredth.
			if math.Abs(back.Value-v) > 0.01+1e-9 {
				t.Errorf("%s -> %s -> %s: %v came back as %v", metric, imperial, metric, v, back.Value)
			}
			if back.Unit != metric {
				t.Errorf("round trip unit = %q, want %q", back.Unit, metric)
			}
		}
	}
}

func TestPrettify(t *testing.T) {
	tests := []struct {
		canonical string
		pretty    string
	}{
		{"degC", "°C"},
		{"degF", "°F"},
		{"kilometer / hour", "km/h"},
		{"mile / hour", "mph"},
		{"foot", "ft"},
	}
	for _, tt := range tests {
		if got := Prettify(tt.canonical); got != tt.pretty {
			t.Errorf("Prettify(%q) = %q, want %q", tt.canonical, got, tt.pretty)
		}
		if got := Unprettify(tt.pretty); got != tt.canonical {
			t.Errorf("Unprettify(%q) = %q, want %q", tt.pretty, got, tt.canonical)
		}
	}

	// Unmapped units pass through in both directions.
	for _, u := range []string{"rpm", "%", ""} {
		if got := Prettify(u); got != u {
			t.Errorf("Prettify(%q) = %q, want passthrough", u, got)
		}
		if got := Unprettify(u); got != u {
			t.Errorf("Unprettify(%q) = %q, want passthrough", u, got)
		}
	}
}

func TestImperialFor(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"km/h", "mph", true},
		{"°C", "°F", true},
		{"km", "mi", true},
		{"m", "ft", true},
		{"rpm", "", false},
		{"%", "", false},
		{"kPa", "", false},
		{"kilometer / hour", "", false},
		{"degC", "", false},
		{"meter", "", false},
	}
	for _, tt := range tests {
		got, ok := ImperialFor(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ImperialFor(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}

	if got, ok := Imperial("degC"); !ok || got != "degF" {
		t.Errorf("Imperial(degC) = (%q, %v), want (degF, true)", got, ok)
	}
}
