package audio

import (
	"math"
)

const (
	// RFC 6464 level of digital silence, in -dBov
	SilentAudioLevel = 127

	negInv20 = -1.0 / 20
)

// ConvertAudioLevel converts -dBov (0 loudest, 127 silent) to a linear level in 0..1
func ConvertAudioLevel(level float64) float64 {
	if level >= SilentAudioLevel {
		return 0
	}
	if level <= 0 {
		return 1
	}
	return math.Pow(10, level*negInv20)
}

// Smoother is an exponential moving average over level samples, with the same centre of mass as a
// simple moving average over `intervals` samples. Zero intervals disables smoothing.
type Smoother struct {
	factor float64
	level  float64
}

func NewSmoother(intervals uint32) *Smoother {
	s := &Smoother{factor: 1}
	if intervals > 0 {
		s.factor = float64(2) / float64(intervals+1)
	}
	return s
}

func (s *Smoother) Observe(level float64) float64 {
	if s.factor == 1 {
		s.level = level
	} else {
		s.level += (level - s.level) * s.factor
	}
	return s.level
}

func (s *Smoother) Level() float64 {
	return s.level
}

func (s *Smoother) Reset() {
	s.level = 0
}

// -----------------------------------

type AudioLevelParams struct {
	// -dBov, a frame at or below this level counts as active
	ActiveLevel uint8
	// percentage of the observe window that must be active
	MinPercentile   uint8
	ObserveDuration uint32 // ms
}

// AudioLevel folds per-packet RFC 6464 levels into one linear level per observe window.
// The result is unsmoothed, see Smoother. Not safe for concurrent use.
type AudioLevel struct {
	params AudioLevelParams
	// min duration within an observe duration window to be considered active
	minActiveDuration uint32

	loudestObservedLevel uint8
	activeDuration       uint32 // ms
	observedDuration     uint32 // ms
}

func NewAudioLevel(params AudioLevelParams) *AudioLevel {
	return &AudioLevel{
		params:               params,
		minActiveDuration:    uint32(params.MinPercentile) * params.ObserveDuration / 100,
		loudestObservedLevel: SilentAudioLevel,
	}
}

// Observe adds a frame. When the frame completes an observe window it returns the window's linear
// level and true.
func (l *AudioLevel) Observe(level uint8, durationMs uint32) (float64, bool) {
	l.observedDuration += durationMs

	if level <= l.params.ActiveLevel {
		l.activeDuration += durationMs
		if l.loudestObservedLevel > level {
			l.loudestObservedLevel = level
		}
	}

	if l.observedDuration < l.params.ObserveDuration {
		return 0, false
	}

	var linearLevel float64
	if l.activeDuration >= l.minActiveDuration && l.activeDuration > 0 {
		// adjust loudest observed level by how much of the window was active,
		// zero weight when active the entire window
		activityWeight := 20 * math.Log10(float64(l.activeDuration)/float64(l.observedDuration))
		linearLevel = ConvertAudioLevel(float64(l.loudestObservedLevel) - activityWeight)
	}

	l.loudestObservedLevel = SilentAudioLevel
	l.activeDuration = 0
	l.observedDuration = 0
	return linearLevel, true
}
