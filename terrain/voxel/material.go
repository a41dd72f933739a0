package voxel

import (
	"fmt"
	"strings"
)

// Material is the id of the material of a voxel sample. Samples outside of
// the surface always carry Air.
type Material uint8

const (
	Air Material = iota
	Stone
	Dirt
	Grass
	Sand
	Snow
)

var materialNames = [...]string{"air", "stone", "dirt", "grass", "sand", "snow"}

// String implements fmt.Stringer.
func (m Material) String() string {
	if int(m) < len(materialNames) {
		return materialNames[m]
	}
	return fmt.Sprintf("material(%d)", uint8(m))
}

// Solid reports if the material belongs to terrain rather than air.
func (m Material) Solid() bool { return m != Air }

// ParseMaterial returns the material with the name passed.
func ParseMaterial(name string) (Material, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range materialNames {
		if n == name {
			return Material(i), nil
		}
	}
	return Air, fmt.Errorf("unknown material %q", name)
}
