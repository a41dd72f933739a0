package noise

import "math"

// fade is the quintic smoothing curve 6t^5 - 15t^4 + 10t^3.
func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// hash3 is a SplitMix64 style integer hash of a lattice point.
func hash3(x, y, z, seed int64) uint64 {
	v := uint64(x)*0x9E3779B97F4A7C15 ^ uint64(y)*0xC2B2AE3D27D4EB4F ^ uint64(z)*0x165667B19E3779F9
	v += uint64(seed) * 0xD6E8FEB86659FD93
	v = (v ^ (v >> 30)) * 0xBF58476D1CE4E5B9
	v = (v ^ (v >> 27)) * 0x94D049BB133111EB
	return v ^ (v >> 31)
}

// lattice maps a lattice point to [0, 1].
func lattice(x, y, z, seed int64) float64 {
	return float64(hash3(x, y, z, seed)&0xFFFFFFFF) / float64(0xFFFFFFFF)
}

// value2 returns smoothed value noise in [0, 1].
func value2(x, z float64, seed int64) float64 {
	x0, z0 := math.Floor(x), math.Floor(z)
	fx, fz := fade(x-x0), fade(z-z0)
	ix, iz := int64(x0), int64(z0)

	i0 := lerp(lattice(ix, 0, iz, seed), lattice(ix+1, 0, iz, seed), fx)
	i1 := lerp(lattice(ix, 0, iz+1, seed), lattice(ix+1, 0, iz+1, seed), fx)
	return lerp(i0, i1, fz)
}

// value3 returns smoothed value noise in [0, 1].
func value3(x, y, z float64, seed int64) float64 {
	x0, y0, z0 := math.Floor(x), math.Floor(y), math.Floor(z)
	fx, fy, fz := fade(x-x0), fade(y-y0), fade(z-z0)
	ix, iy, iz := int64(x0), int64(y0), int64(z0)

	var layer [2]float64
	for j := int64(0); j < 2; j++ {
		i0 := lerp(lattice(ix, iy+j, iz, seed), lattice(ix+1, iy+j, iz, seed), fx)
		i1 := lerp(lattice(ix, iy+j, iz+1, seed), lattice(ix+1, iy+j, iz+1, seed), fx)
		layer[j] = lerp(i0, i1, fz)
	}
	return lerp(layer[0], layer[1], fy)
}

// fbm2 sums octaves of value2 and normalises the result to [0, 1].
func fbm2(x, z float64, seed int64, p Params) float64 {
	amplitude, frequency, sum, norm := 1.0, 1.0, 0.0, 0.0
	for i := range p.Octaves {
		sum += value2(x*frequency, z*frequency, seed+int64(i*131)) * amplitude
		norm += amplitude
		amplitude *= p.Persistence
		frequency *= p.Lacunarity
	}
	return sum / norm
}

// fbm3 sums octaves of value3 and normalises the result to [0, 1].
func fbm3(x, y, z float64, seed int64, p Params) float64 {
	amplitude, frequency, sum, norm := 1.0, 1.0, 0.0, 0.0
	for i := range p.Octaves {
		sum += value3(x*frequency, y*frequency, z*frequency, seed+int64(i*131)) * amplitude
		norm += amplitude
		amplitude *= p.Persistence
		frequency *= p.Lacunarity
	}
	return sum / norm
}
