package noise

import (
	"fmt"
	"strings"
)

// Preset is one of the known terrain shapes. Blended selects between the
// other presets using a low frequency biome noise.
type Preset uint8

const (
	// Flat terrain sits at the base height without any relief.
	Flat Preset = iota
	// Forest is gently rolling terrain.
	Forest
	// Plains has low, wide hills.
	Plains
	// Hills has pronounced hills roughly twice as tall as Plains.
	Hills
	// Mountains has the tallest relief of all presets.
	Mountains
	// Blended picks between the other presets with a biome noise, blending
	// them near the borders between biomes.
	Blended
)

var presetNames = [...]string{"flat", "forest", "plains", "hills", "mountains", "blended"}

// presetAmplitudes are the relative heights of the presets, in the order of
// their biome centres.
var presetAmplitudes = [...]float64{0, 0.4, 0.7, 1.4, 6.3}

// biomeCentres are the biome noise values at which a preset applies
// unblended.
var biomeCentres = [...]float64{-2.0 / 3, -1.0 / 3, 0, 1.0 / 3, 2.0 / 3}

// Valid reports if the preset is one of the known presets.
func (p Preset) Valid() bool { return int(p) < len(presetNames) }

// String implements fmt.Stringer.
func (p Preset) String() string {
	if p.Valid() {
		return presetNames[p]
	}
	return fmt.Sprintf("preset(%d)", uint8(p))
}

// ParsePreset returns the preset with the name passed.
func ParsePreset(name string) (Preset, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range presetNames {
		if n == name {
			return Preset(i), nil
		}
	}
	return Flat, fmt.Errorf("%w: unknown preset %q", ErrInvalidParams, name)
}

// Amplitude returns the relative height of the preset. b is the biome noise
// in [-1, 1] and is only used by Blended, which interpolates linearly between
// the two presets whose biome centres surround b.
func (p Preset) Amplitude(b float64) float64 {
	if p != Blended {
		return presetAmplitudes[p]
	}
	last := len(biomeCentres) - 1
	if b <= biomeCentres[0] {
		return presetAmplitudes[0]
	}
	if b >= biomeCentres[last] {
		return presetAmplitudes[last]
	}
	for i := 0; i < last; i++ {
		lo, hi := biomeCentres[i], biomeCentres[i+1]
		if b <= hi {
			t := (b - lo) / (hi - lo)
			return presetAmplitudes[i] + (presetAmplitudes[i+1]-presetAmplitudes[i])*t
		}
	}
	return presetAmplitudes[last]
}
