// Package shruti maps frequencies onto the twelve svarasthanas of the
// Carnatic just-intonation system, relative to a movable tonic.
package shruti

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Degree is one svarasthana: a named pitch position defined as a
// rational interval above the tonic.
type Degree struct {
	// Name is the sargam label, e.g. "Sa", "Ri2", "Pa".
	Name string

	// Ratio is the just-intonation interval over the tonic, within one
	// octave (1 <= Ratio < 2).
	Ratio float64
}

// Degrees is the canonical just-intonation table. Order is ascending
// within the octave.
var Degrees = []Degree{
	{"Sa", 1.0},
	{"Ri1", 16.0 / 15.0},
	{"Ri2", 9.0 / 8.0},
	{"Ga1", 6.0 / 5.0},
	{"Ga2", 5.0 / 4.0},
	{"Ma1", 4.0 / 3.0},
	{"Ma2", 45.0 / 32.0},
	{"Pa", 3.0 / 2.0},
	{"Da1", 8.0 / 5.0},
	{"Da2", 5.0 / 3.0},
	{"Ni1", 16.0 / 9.0},
	{"Ni2", 15.0 / 8.0},
}

// IsValidName reports whether name is a known svarasthana label.
func IsValidName(name string) bool {
	for _, d := range Degrees {
		if d.Name == name {
			return true
		}
	}
	return false
}

// Detection is one mapped pitch observation.
type Detection struct {
	// Name is the nearest svarasthana, e.g. "Pa".
	Name string

	// Frequency is the detected fundamental in Hz.
	Frequency float64

	// Cents is the signed deviation from the exact just-intonation
	// position of Name, in cents. Negative means flat.
	Cents float64

	// Confidence is the estimator's clarity for this observation,
	// 0.0 to 1.0.
	Confidence float64

	// Timestamp is when the source frame was captured.
	Timestamp time.Time
}

// DefaultBaseFrequency is the C3 tonic commonly used for male vocal
// practice.
const DefaultBaseFrequency = 130.81

// Mapper resolves frequencies to the nearest degree relative to its
// current tonic. Safe for concurrent use; SetBaseFrequency applies
// atomically to subsequent Map calls.
type Mapper struct {
	mu   sync.RWMutex
	base float64
}

// NewMapper creates a mapper with the given tonic. A non-positive
// base falls back to DefaultBaseFrequency.
func NewMapper(baseFrequency float64) *Mapper {
	if baseFrequency <= 0 {
		baseFrequency = DefaultBaseFrequency
	}
	return &Mapper{base: baseFrequency}
}

// BaseFrequency returns the current tonic in Hz.
func (m *Mapper) BaseFrequency() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.base
}

// SetBaseFrequency moves the tonic. Non-positive values are rejected
// and the previous tonic is retained. The change affects only
// observations mapped after it returns.
func (m *Mapper) SetBaseFrequency(hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("base frequency must be positive, got %v", hz)
	}
	m.mu.Lock()
	m.base = hz
	m.mu.Unlock()
	return nil
}

// Map resolves a frequency to the nearest degree in any octave of the
// current tonic. Confidence is carried through untouched. Returns
// false when frequency is not positive.
func (m *Mapper) Map(frequency, confidence float64, timestamp time.Time) (Detection, bool) {
	if frequency <= 0 {
		return Detection{}, false
	}
	base := m.BaseFrequency()

	// Position within the octave as a fraction of log2.
	interval := math.Log2(frequency / base)
	octave := math.Floor(interval)
	folded := interval - octave

	best := 0
	bestDist := math.Inf(1)
	for i, d := range Degrees {
		pos := math.Log2(d.Ratio)
		dist := math.Abs(folded - pos)
		// The octave is circular: Sa an octave up is as close as Sa.
		if wrapped := 1 - dist; wrapped < dist {
			dist = wrapped
		}
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}

	d := Degrees[best]

	// A frequency just below the tonic folds to the top of the octave
	// but is nearest the Sa above it.
	degreeOctave := octave
	if folded > math.Log2(d.Ratio)+0.5 {
		degreeOctave++
	}
	exact := base * d.Ratio * math.Pow(2, degreeOctave)
	cents := 1200 * math.Log2(frequency/exact)

	return Detection{
		Name:       d.Name,
		Frequency:  frequency,
		Cents:      cents,
		Confidence: confidence,
		Timestamp:  timestamp,
	}, true
}
