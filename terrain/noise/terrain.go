package noise

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	biomeSeedOffset = 0x5bd1e995
	caveSeedOffset  = 0x27d4eb2f
)

// Terrain is the reference Oracle. It produces a height field shaped by the
// preset, optionally carved by 3D cave noise. The density returned is roughly
// the vertical distance to the surface in world units, positive below it.
type Terrain struct{}

// Sample ...
func (Terrain) Sample(pos mgl64.Vec3, p Params) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	d := Height(pos[0], pos[2], p) - pos[1]
	if p.CaveStrength > 0 {
		c := fbm3(pos[0]*p.CaveScale, pos[1]*p.CaveScale, pos[2]*p.CaveScale, p.Seed+caveSeedOffset, p)
		if c > p.CaveThreshold {
			d -= p.CaveStrength * (c - p.CaveThreshold)
		}
	}
	return d, nil
}

// Height returns the surface height of the terrain at a world column, ignoring
// caves. The parameters are assumed to be valid.
func Height(x, z float64, p Params) float64 {
	amp := p.Preset.Amplitude(Biome(x, z, p))
	if amp == 0 {
		return p.BaseHeight
	}
	n := fbm2(x*p.TerrainScale, z*p.TerrainScale, p.Seed, p)*2 - 1
	return p.BaseHeight + n*amp*p.Amplitude*p.HeightMultiplier
}

// Biome returns the biome noise in [-1, 1] at a world column. It returns 0
// for presets other than Blended.
func Biome(x, z float64, p Params) float64 {
	if p.Preset != Blended {
		return 0
	}
	b := fbm2(x*p.BiomeScale, z*p.BiomeScale, p.Seed+biomeSeedOffset, p)*2 - 1
	// Value noise rarely reaches its extremes, so the range is stretched to
	// let the outer presets appear.
	return math.Max(-1, math.Min(1, b*1.5))
}
