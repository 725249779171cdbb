package audio

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// MaxGain is the largest linear gain accepted by GainEffect.
const MaxGain = 4.0

// AudioEffect processes interleaved S16 samples in place or into a new slice.
type AudioEffect interface {
	Process(samples []int16) ([]int16, error)
	GetName() string
	Close() error
}

// GainEffect applies a linear gain with clipping to the int16 range.
//
// Gain values: 0.0 = silence, 1.0 = unity, 2.0 = +6dB.
type GainEffect struct {
	gain    float64
	clipped uint64
}

// NewGainEffect creates a gain effect.
//
// Parameters:
//   - gain: Linear gain multiplier in [0, MaxGain]
//
// Returns:
//   - *GainEffect: New gain effect instance
//   - error: ErrInvalidGain if gain is out of range
func NewGainEffect(gain float64) (*GainEffect, error) {
	if err := validateGain(gain); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewGainEffect",
			"gain":     gain,
			"error":    err.Error(),
		}).Error("Gain validation failed")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewGainEffect",
		"gain":     gain,
	}).Debug("Created gain effect")

	return &GainEffect{gain: gain}, nil
}

func validateGain(gain float64) error {
	if gain < 0.0 || gain > MaxGain {
		return fmt.Errorf("%w: %.2f (range 0.00-%.2f)", ErrInvalidGain, gain, MaxGain)
	}
	return nil
}

// Process scales samples in place. Samples that would overflow are clipped
// and counted.
func (g *GainEffect) Process(samples []int16) ([]int16, error) {
	if len(samples) == 0 || g.gain == 1.0 {
		return samples, nil
	}

	clipped := 0
	for i, sample := range samples {
		v := float64(sample) * g.gain
		switch {
		case v > 32767.0:
			samples[i] = 32767
			clipped++
		case v < -32768.0:
			samples[i] = -32768
			clipped++
		default:
			samples[i] = int16(v)
		}
	}

	if clipped > 0 {
		g.clipped += uint64(clipped)
		logrus.WithFields(logrus.Fields{
			"function":      "GainEffect.Process",
			"clipped_count": clipped,
			"total_samples": len(samples),
			"gain":          g.gain,
		}).Debug("Clipping during gain processing")
	}

	return samples, nil
}

// GetName returns the effect name for logging.
func (g *GainEffect) GetName() string {
	return fmt.Sprintf("Gain(%.2f)", g.gain)
}

// SetGain updates the gain value.
func (g *GainEffect) SetGain(gain float64) error {
	if err := validateGain(gain); err != nil {
		return err
	}
	g.gain = gain
	return nil
}

// GetGain returns the current gain value.
func (g *GainEffect) GetGain() float64 {
	return g.gain
}

// Clipped returns the total number of clipped samples.
func (g *GainEffect) Clipped() uint64 {
	return g.clipped
}

// Close is a no-op for the gain effect.
func (g *GainEffect) Close() error {
	return nil
}

// EffectChain runs effects in insertion order.
type EffectChain struct {
	effects []AudioEffect
}

// NewEffectChain returns an empty chain.
func NewEffectChain(effects ...AudioEffect) *EffectChain {
	return &EffectChain{effects: effects}
}

// AddEffect appends an effect to the chain.
func (e *EffectChain) AddEffect(effect AudioEffect) {
	e.effects = append(e.effects, effect)
}

// Process runs every effect. The first failure stops the chain.
func (e *EffectChain) Process(samples []int16) ([]int16, error) {
	var err error
	for _, effect := range e.effects {
		samples, err = effect.Process(samples)
		if err != nil {
			return nil, fmt.Errorf("effect %s: %w", effect.GetName(), err)
		}
	}
	return samples, nil
}

// Len returns the number of effects in the chain.
func (e *EffectChain) Len() int {
	return len(e.effects)
}

// String lists the effect names.
func (e *EffectChain) String() string {
	names := make([]string, len(e.effects))
	for i, effect := range e.effects {
		names[i] = effect.GetName()
	}
	return "[" + strings.Join(names, " ") + "]"
}

// Close closes every effect and returns the first error.
func (e *EffectChain) Close() error {
	var first error
	for _, effect := range e.effects {
		if err := effect.Close(); err != nil && first == nil {
			first = err
		}
	}
	e.effects = nil
	return first
}
