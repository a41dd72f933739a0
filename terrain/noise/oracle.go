// Package noise defines the density oracle consulted by terrain generation,
// together with a reference value-noise implementation.
package noise

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/go-gl/mathgl/mgl64"
)

// ErrInvalidParams is returned by an Oracle when the Params passed cannot be
// used for sampling.
var ErrInvalidParams = errors.New("noise: invalid parameters")

// Oracle samples a scalar density field. Positive values are inside terrain.
// Implementations must be pure and safe for concurrent use: the same position
// and parameters must always produce the same value.
type Oracle interface {
	Sample(pos mgl64.Vec3, p Params) (float64, error)
}

// Func is an Oracle implemented by a single function.
type Func func(pos mgl64.Vec3, p Params) (float64, error)

// Sample calls f.
func (f Func) Sample(pos mgl64.Vec3, p Params) (float64, error) {
	return f(pos, p)
}

// Params holds the parameters of the density field. Positions passed to an
// Oracle are in world units, so the scales below are in inverse world units.
type Params struct {
	Seed   int64
	Preset Preset
	// TerrainScale is the frequency of the first octave of the height noise.
	TerrainScale float64
	// BiomeScale is the frequency of the noise choosing between presets when
	// Preset is Blended.
	BiomeScale float64
	// Amplitude is the height of the tallest terrain in world units before
	// the preset amplitude and HeightMultiplier are applied.
	Amplitude        float64
	HeightMultiplier float64
	// BaseHeight is the world height of flat terrain.
	BaseHeight float64

	// CaveScale is the frequency of the cave noise. CaveStrength of 0
	// disables caves.
	CaveScale, CaveThreshold, CaveStrength float64

	Octaves                 int
	Persistence, Lacunarity float64
}

// DefaultParams returns parameters producing blended rolling terrain.
func DefaultParams() Params {
	return Params{
		Preset:           Blended,
		TerrainScale:     0.0075,
		BiomeScale:       0.0015,
		Amplitude:        64,
		HeightMultiplier: 0.3,
		CaveScale:        0.04,
		CaveThreshold:    0.62,
		CaveStrength:     48,
		Octaves:          4,
		Persistence:      0.5,
		Lacunarity:       2,
	}
}

// Validate checks that the parameters can be sampled with.
func (p Params) Validate() error {
	switch {
	case !p.Preset.Valid():
		return fmt.Errorf("%w: unknown preset %d", ErrInvalidParams, p.Preset)
	case p.TerrainScale <= 0 || math.IsNaN(p.TerrainScale) || math.IsInf(p.TerrainScale, 0):
		return fmt.Errorf("%w: terrain scale must be positive", ErrInvalidParams)
	case p.Preset == Blended && p.BiomeScale <= 0:
		return fmt.Errorf("%w: biome scale must be positive for blended terrain", ErrInvalidParams)
	case p.Octaves < 1 || p.Octaves > 16:
		return fmt.Errorf("%w: octaves must be between 1 and 16, got %d", ErrInvalidParams, p.Octaves)
	case p.Lacunarity <= 0 || p.Persistence <= 0:
		return fmt.Errorf("%w: lacunarity and persistence must be positive", ErrInvalidParams)
	case p.CaveStrength < 0 || (p.CaveStrength > 0 && p.CaveScale <= 0):
		return fmt.Errorf("%w: cave strength requires a positive cave scale", ErrInvalidParams)
	}
	return nil
}

// Fingerprint returns a hash identifying the parameters. Grids generated with
// parameters of equal fingerprints are interchangeable.
func (p Params) Fingerprint() uint64 {
	buf := make([]byte, 0, 128)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Seed))
	buf = append(buf, byte(p.Preset))
	for _, f := range [...]float64{
		p.TerrainScale, p.BiomeScale, p.Amplitude, p.HeightMultiplier, p.BaseHeight,
		p.CaveScale, p.CaveThreshold, p.CaveStrength, p.Persistence, p.Lacunarity,
	} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Octaves))
	return xxhash.Sum64(buf)
}
