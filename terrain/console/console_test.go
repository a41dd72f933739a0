package console

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/dm-vev/voxelterrain/terrain/store"
	"github.com/dm-vev/voxelterrain/terrain/stream"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
	"github.com/go-gl/mathgl/mgl64"
)

type fakeTarget struct {
	viewer mgl64.Vec3
	radius int
	edits  map[voxel.Coord]voxel.Material
	saves  int
	execs  int
}

func (f *fakeTarget) Exec(fn func()) <-chan struct{} {
	f.execs++
	fn()
	done := make(chan struct{})
	close(done)
	return done
}

func (f *fakeTarget) Teleport(pos mgl64.Vec3) { f.viewer = pos }
func (f *fakeTarget) Viewer() mgl64.Vec3      { return f.viewer }
func (f *fakeTarget) SetRadius(r int)         { f.radius = r }

func (f *fakeTarget) SetVoxel(c voxel.Coord, _ float32, m voxel.Material) error {
	f.edits[c] = m
	return nil
}

func (f *fakeTarget) ClearVoxel(c voxel.Coord) (bool, error) {
	_, ok := f.edits[c]
	delete(f.edits, c)
	return ok, nil
}

func (f *fakeTarget) Voxel(c voxel.Coord) (float32, voxel.Material, error) {
	if m, ok := f.edits[c]; ok {
		return 1, m, nil
	}
	return -1, voxel.Air, nil
}

func (f *fakeTarget) Counts() map[store.State]int {
	return map[store.State]int{store.Ready: 27, store.Generating: 2}
}
func (f *fakeTarget) Report() stream.Report { return stream.Report{Pending: 4, InFlight: 2} }
func (f *fakeTarget) TPS() float64          { return 20 }
func (f *fakeTarget) Save() error           { f.saves++; return nil }

func run(t *testing.T, input string) (*fakeTarget, string) {
	t.Helper()
	target := &fakeTarget{edits: make(map[voxel.Coord]voxel.Material)}
	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(&out, nil))
	New(target, log).WithReader(strings.NewReader(input)).Run(context.Background())
	return target, out.String()
}

func TestCommands(t *testing.T) {
	target, out := run(t, "tp 1 2.5 -3\n/radius 4\nset 1 2 3 5 sand\nset 4 5 6 2\n\nclear 4 5 6\nsave\n")
	if target.viewer != (mgl64.Vec3{1, 2.5, -3}) {
		t.Fatalf("viewer not teleported: %v", target.viewer)
	}
	if target.radius != 4 {
		t.Fatalf("radius not set: %d", target.radius)
	}
	if target.edits[voxel.Coord{1, 2, 3}] != voxel.Sand {
		t.Fatalf("voxel not set: %v", target.edits)
	}
	if _, ok := target.edits[voxel.Coord{4, 5, 6}]; ok {
		t.Fatalf("voxel not cleared")
	}
	if target.saves != 1 {
		t.Fatalf("expected one save, got %d", target.saves)
	}
	if target.execs != 6 {
		t.Fatalf("expected every command to run through Exec, got %d", target.execs)
	}
	if !strings.Contains(out, "Cleared voxel") {
		t.Fatalf("missing command output: %s", out)
	}
}

func TestGetAndStats(t *testing.T) {
	_, out := run(t, "set 0 0 0 1 snow\nget 0 0 0\nstats\n")
	if !strings.Contains(out, "density 1.000, snow") {
		t.Fatalf("unexpected get output: %s", out)
	}
	if !strings.Contains(out, "pending 4, in flight 2") {
		t.Fatalf("unexpected stats output: %s", out)
	}
}

func TestInvalidCommands(t *testing.T) {
	target, out := run(t, "fly\ntp 1 2\nset 1 2 3 x\nset 1 2 3 4 lava\n")
	if len(target.edits) != 0 {
		t.Fatalf("invalid commands changed the terrain")
	}
	for _, want := range []string{"unknown command", "usage: tp <x> <y> <z>", "usage: set", "command failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q does not contain %q", out, want)
		}
	}
}
