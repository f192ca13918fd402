package dsp

import (
	"math"
)

// EstimatorConfig tunes the pitch estimator.
type EstimatorConfig struct {
	// NoiseFloor is the RMS energy below which a frame is treated as
	// silence and no pitch is reported. Range 0.0 to 1.0.
	NoiseFloor float64

	// ClarityThreshold is the minimum normalized autocorrelation a lag
	// must reach to count as a pitch candidate. Range 0.0 to 1.0.
	ClarityThreshold float64

	// MinFrequency and MaxFrequency bound the reported fundamental.
	// Results outside the band are discarded as octave or noise errors.
	MinFrequency float64
	MaxFrequency float64
}

// DefaultEstimatorConfig returns thresholds tuned for sung vocals.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		NoiseFloor:       0.01,
		ClarityThreshold: 0.9,
		MinFrequency:     80,
		MaxFrequency:     1100,
	}
}

// PitchResult is the outcome of analyzing one frame.
// A zero Frequency means no pitch was detected.
type PitchResult struct {
	// Frequency is the estimated fundamental in Hz, 0 if undetected.
	Frequency float64

	// Clarity is the normalized autocorrelation score of the winning
	// lag, 0.0 to 1.0. Usable as a detection confidence.
	Clarity float64

	// RMS is the frame energy that was measured before estimation.
	RMS float64
}

// Detected reports whether the frame contained a usable pitch.
func (r PitchResult) Detected() bool {
	return r.Frequency > 0
}

// Estimator detects the fundamental frequency of monophonic audio
// frames using time-domain autocorrelation. It is stateless: each frame
// is analyzed independently and the same frame always yields the same
// result.
type Estimator struct {
	cfg EstimatorConfig
}

// NewEstimator creates an estimator. Zero config fields fall back to
// defaults.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	def := DefaultEstimatorConfig()
	if cfg.NoiseFloor <= 0 {
		cfg.NoiseFloor = def.NoiseFloor
	}
	if cfg.ClarityThreshold <= 0 {
		cfg.ClarityThreshold = def.ClarityThreshold
	}
	if cfg.MinFrequency <= 0 {
		cfg.MinFrequency = def.MinFrequency
	}
	if cfg.MaxFrequency <= 0 {
		cfg.MaxFrequency = def.MaxFrequency
	}
	return &Estimator{cfg: cfg}
}

// Estimate analyzes one frame of normalized mono samples.
// Frames that are empty, too short to cover the lowest detectable
// period, or below the noise floor yield a no-pitch result.
func (e *Estimator) Estimate(samples []float64, sampleRate int) PitchResult {
	n := len(samples)
	if n == 0 || sampleRate <= 0 {
		return PitchResult{}
	}

	rms := RMS(samples)
	if rms < e.cfg.NoiseFloor {
		return PitchResult{RMS: rms}
	}

	minLag := int(float64(sampleRate) / e.cfg.MaxFrequency)
	if minLag < 1 {
		minLag = 1
	}
	maxLag := int(float64(sampleRate) / e.cfg.MinFrequency)
	if maxLag > n/2 {
		maxLag = n / 2
	}
	if maxLag <= minLag {
		return PitchResult{RMS: rms}
	}

	scores := autocorrelation(samples, minLag, maxLag)

	lag, clarity := pickPeak(scores, minLag, e.cfg.ClarityThreshold)
	if lag == 0 {
		return PitchResult{RMS: rms}
	}

	refined := refineLag(scores, minLag, lag)
	freq := float64(sampleRate) / refined
	if freq < e.cfg.MinFrequency || freq > e.cfg.MaxFrequency {
		return PitchResult{RMS: rms}
	}

	return PitchResult{Frequency: freq, Clarity: clarity, RMS: rms}
}

// autocorrelation computes the normalized autocorrelation score for
// each lag in [minLag, maxLag]. Scores are indexed relative to minLag.
func autocorrelation(samples []float64, minLag, maxLag int) []float64 {
	n := len(samples)
	scores := make([]float64, maxLag-minLag+1)
	for lag := minLag; lag <= maxLag; lag++ {
		var cross, energyA, energyB float64
		for i := 0; i+lag < n; i++ {
			a := samples[i]
			b := samples[i+lag]
			cross += a * b
			energyA += a * a
			energyB += b * b
		}
		norm := math.Sqrt(energyA * energyB)
		if norm > 0 {
			scores[lag-minLag] = cross / norm
		}
	}
	return scores
}

// pickPeak returns the first local maximum above the clarity threshold.
// Taking the first qualifying peak, rather than the global maximum,
// keeps subharmonics at multiples of the true period from halving the
// estimate.
func pickPeak(scores []float64, minLag int, threshold float64) (int, float64) {
	for i := 1; i < len(scores)-1; i++ {
		s := scores[i]
		if s < threshold {
			continue
		}
		if s >= scores[i-1] && s >= scores[i+1] {
			return minLag + i, s
		}
	}
	return 0, 0
}

// refineLag applies parabolic interpolation over the peak's neighbors
// to recover sub-sample period precision.
func refineLag(scores []float64, minLag, lag int) float64 {
	i := lag - minLag
	if i <= 0 || i >= len(scores)-1 {
		return float64(lag)
	}
	s0 := scores[i-1]
	s1 := scores[i]
	s2 := scores[i+1]
	denom := s0 - 2*s1 + s2
	if denom == 0 {
		return float64(lag)
	}
	delta := 0.5 * (s0 - s2) / denom
	if delta < -0.5 || delta > 0.5 {
		return float64(lag)
	}
	return float64(lag) + delta
}
