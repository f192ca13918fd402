package shruti

import (
	"math"
	"testing"
	"time"
)

func TestMapper_ExactDegrees(t *testing.T) {
	const base = 130.81
	m := NewMapper(base)

	for _, d := range Degrees {
		t.Run(d.Name, func(t *testing.T) {
			det, ok := m.Map(base*d.Ratio, 0.95, time.Unix(0, 0))
			if !ok {
				t.Fatal("expected a detection")
			}
			if det.Name != d.Name {
				t.Errorf("mapped to %q, want %q", det.Name, d.Name)
			}
			if math.Abs(det.Cents) > 0.01 {
				t.Errorf("expected 0 cents at exact ratio, got %.4f", det.Cents)
			}
			if det.Confidence != 0.95 {
				t.Errorf("confidence not carried through: %.2f", det.Confidence)
			}
		})
	}
}

func TestMapper_OctaveFolding(t *testing.T) {
	const base = 130.81
	m := NewMapper(base)

	tests := []struct {
		name string
		freq float64
		want string
	}{
		{"Pa one octave up", base * 1.5 * 2, "Pa"},
		{"Sa two octaves up", base * 4, "Sa"},
		{"Ga2 one octave down", base * 1.25 / 2, "Ga2"},
		{"Sa one octave down", base / 2, "Sa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, ok := m.Map(tt.freq, 0.9, time.Unix(0, 0))
			if !ok {
				t.Fatal("expected a detection")
			}
			if det.Name != tt.want {
				t.Errorf("mapped to %q, want %q", det.Name, tt.want)
			}
			if math.Abs(det.Cents) > 0.01 {
				t.Errorf("expected 0 cents, got %.4f", det.Cents)
			}
		})
	}
}

func TestMapper_CentDeviation(t *testing.T) {
	const base = 130.81
	m := NewMapper(base)

	// 20 cents sharp of Pa.
	freq := base * 1.5 * math.Pow(2, 20.0/1200.0)
	det, ok := m.Map(freq, 0.9, time.Unix(0, 0))
	if !ok {
		t.Fatal("expected a detection")
	}
	if det.Name != "Pa" {
		t.Errorf("mapped to %q, want Pa", det.Name)
	}
	if math.Abs(det.Cents-20) > 0.1 {
		t.Errorf("expected +20 cents, got %.2f", det.Cents)
	}

	// 15 cents flat of Ri2.
	freq = base * 9 / 8 * math.Pow(2, -15.0/1200.0)
	det, _ = m.Map(freq, 0.9, time.Unix(0, 0))
	if det.Name != "Ri2" {
		t.Errorf("mapped to %q, want Ri2", det.Name)
	}
	if math.Abs(det.Cents+15) > 0.1 {
		t.Errorf("expected -15 cents, got %.2f", det.Cents)
	}
}

func TestMapper_JustBelowTonicFoldsToSaAbove(t *testing.T) {
	const base = 200.0
	m := NewMapper(base)

	// 30 cents below the upper Sa should map to that Sa, flat.
	freq := base * 2 * math.Pow(2, -30.0/1200.0)
	det, ok := m.Map(freq, 0.9, time.Unix(0, 0))
	if !ok {
		t.Fatal("expected a detection")
	}
	if det.Name != "Sa" {
		t.Errorf("mapped to %q, want Sa", det.Name)
	}
	if math.Abs(det.Cents+30) > 0.1 {
		t.Errorf("expected -30 cents, got %.2f", det.Cents)
	}
}

func TestMapper_SetBaseFrequency(t *testing.T) {
	m := NewMapper(130.81)

	// 196.22 Hz is Pa over C3.
	det, _ := m.Map(196.22, 0.9, time.Unix(0, 0))
	if det.Name != "Pa" {
		t.Fatalf("mapped to %q, want Pa", det.Name)
	}

	// After moving the tonic to 196.22 the same frequency is Sa.
	if err := m.SetBaseFrequency(196.22); err != nil {
		t.Fatalf("SetBaseFrequency: %v", err)
	}
	det, _ = m.Map(196.22, 0.9, time.Unix(0, 0))
	if det.Name != "Sa" {
		t.Errorf("mapped to %q after tonic change, want Sa", det.Name)
	}
}

func TestMapper_RejectsBadBaseFrequency(t *testing.T) {
	m := NewMapper(130.81)

	for _, hz := range []float64{0, -1, -130.81} {
		if err := m.SetBaseFrequency(hz); err == nil {
			t.Errorf("expected error for base frequency %v", hz)
		}
	}
	if m.BaseFrequency() != 130.81 {
		t.Errorf("tonic changed after rejected update: %v", m.BaseFrequency())
	}
}

func TestMapper_InvalidFrequency(t *testing.T) {
	m := NewMapper(130.81)
	if _, ok := m.Map(0, 0.9, time.Unix(0, 0)); ok {
		t.Error("expected no detection for zero frequency")
	}
	if _, ok := m.Map(-220, 0.9, time.Unix(0, 0)); ok {
		t.Error("expected no detection for negative frequency")
	}
}

func TestIsValidName(t *testing.T) {
	for _, name := range []string{"Sa", "Ri1", "Ri2", "Ga1", "Ga2", "Ma1", "Ma2", "Pa", "Da1", "Da2", "Ni1", "Ni2"} {
		if !IsValidName(name) {
			t.Errorf("%q should be valid", name)
		}
	}
	for _, name := range []string{"", "sa", "Re", "Pa1", "X"} {
		if IsValidName(name) {
			t.Errorf("%q should be invalid", name)
		}
	}
}
