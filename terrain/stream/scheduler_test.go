package stream

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dm-vev/voxelterrain/terrain/density"
	"github.com/dm-vev/voxelterrain/terrain/mesh"
	"github.com/dm-vev/voxelterrain/terrain/noise"
	"github.com/dm-vev/voxelterrain/terrain/sink"
	"github.com/dm-vev/voxelterrain/terrain/store"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
	"github.com/go-gl/mathgl/mgl64"
)

var geom = voxel.Geometry{Resolution: 16, VoxelSize: 1}

// waves is a cheap oracle producing a wavy surface a few voxels above y=0.
var waves = noise.Func(func(pos mgl64.Vec3, _ noise.Params) (float64, error) {
	return 3 + 2*math.Sin(pos[0]*0.3) + math.Cos(pos[2]*0.2) - pos[1], nil
})

type harness struct {
	s     *Scheduler
	store *store.Store
	rec   *sink.Recorder
}

func newHarness(t *testing.T, gen Generator, conf Config) harness {
	t.Helper()
	h := harness{store: store.New(), rec: sink.NewRecorder()}
	if gen == nil {
		gen = density.Config{Geometry: geom, Oracle: waves}.New()
	}
	if conf.Log == nil {
		conf.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	conf.Store, conf.Generator, conf.Sink = h.store, gen, h.rec
	conf.Mesher = mesh.Mesher{Geometry: geom}
	conf.Geometry = geom
	conf.StrictTransitions = true
	h.s = conf.New()
	t.Cleanup(h.s.Close)
	return h
}

// viewerAt returns the centre of the chunk at x, 0, 0.
func viewerAt(x int32) mgl64.Vec3 {
	return geom.Centre(voxel.ChunkPos{x, 0, 0})
}

func (h harness) runUntilIdle(t *testing.T, viewer mgl64.Vec3) {
	t.Helper()
	h.runUntil(t, viewer, -1, h.s.Idle)
}

// runUntil ticks the scheduler with the radius passed until done returns
// true.
func (h harness) runUntil(t *testing.T, viewer mgl64.Vec3, radius int, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		h.s.Tick(viewer, radius)
		if done() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduler did not settle: %+v", h.s.LastTick())
		}
		time.Sleep(time.Millisecond)
	}
}

// ready returns a function reporting if the chunk at pos is Ready.
func (h harness) ready(pos voxel.ChunkPos) func() bool {
	return func() bool {
		v, ok := h.store.Lookup(pos)
		return ok && v.State == store.Ready
	}
}

func cube(centre voxel.ChunkPos, r int32, f func(pos voxel.ChunkPos)) {
	for dy := -r; dy <= r; dy++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				f(centre.Add(voxel.ChunkPos{dx, dy, dz}))
			}
		}
	}
}

func TestStreamingLifecycle(t *testing.T) {
	h := newHarness(t, nil, Config{LoadRadius: 2, UnloadRadius: 3, Workers: 4, DispatchBudget: 200})

	report := h.s.Tick(viewerAt(0), -1)
	if report.Enqueued[KindGenerate] != 125 {
		t.Fatalf("expected 125 generate requests, got %d", report.Enqueued[KindGenerate])
	}
	if n := h.store.Len(); n != 125 {
		t.Fatalf("expected 125 chunks, got %d", n)
	}
	if n := h.store.Count()[store.Unloaded]; n != 0 {
		t.Fatalf("%d chunks were left unloaded", n)
	}

	h.runUntilIdle(t, viewerAt(0))
	if n := h.store.Count()[store.Ready]; n != 125 {
		t.Fatalf("expected 125 ready chunks, got %d", n)
	}
	cube(voxel.ChunkPos{}, 2, func(pos voxel.ChunkPos) {
		if n := h.rec.Upserts(pos); n != 1 {
			t.Fatalf("chunk %v upserted %d times, want 1", pos, n)
		}
	})
	if !h.rec.Collision(voxel.ChunkPos{}) {
		t.Fatalf("centre chunk should have collision")
	}

	report = h.s.Tick(viewerAt(1), -1)
	if report.Enqueued[KindGenerate] != 25 || report.Enqueued[KindUnload] != 0 {
		t.Fatalf("unexpected requests after moving one chunk: %+v", report.Enqueued)
	}
	h.runUntilIdle(t, viewerAt(1))

	report = h.s.Tick(viewerAt(2), -1)
	if report.Enqueued[KindGenerate] != 25 || report.Enqueued[KindUnload] != 25 {
		t.Fatalf("unexpected requests after moving two chunks: %+v", report.Enqueued)
	}
	if report.Unloaded != 25 {
		t.Fatalf("expected 25 chunks unloaded, got %d", report.Unloaded)
	}
	h.runUntilIdle(t, viewerAt(2))
	if n := h.store.Len(); n != 150 {
		t.Fatalf("expected 150 chunks, got %d", n)
	}
	gone := voxel.ChunkPos{-2, 1, 0}
	if _, ok := h.store.Lookup(gone); ok {
		t.Fatalf("chunk %v should have been unloaded", gone)
	}
	if h.rec.Removes(gone) != 1 {
		t.Fatalf("mesh of chunk %v was not removed", gone)
	}
	if h.s.Metrics().Snapshot().Unloaded != 25 {
		t.Fatalf("unexpected unload metric %d", h.s.Metrics().Snapshot().Unloaded)
	}
}

func TestUnloadHysteresis(t *testing.T) {
	h := newHarness(t, nil, Config{LoadRadius: 2, UnloadRadius: 3, Workers: 4})
	h.runUntilIdle(t, viewerAt(0))

	edge := voxel.ChunkPos{2, 0, 0}
	report := h.s.Tick(viewerAt(-1), -1)
	if report.Enqueued[KindUnload] != 0 {
		t.Fatalf("chunks within the unload radius were unloaded")
	}
	h.runUntilIdle(t, viewerAt(-1))
	if v, ok := h.store.Lookup(edge); !ok || v.State != store.Ready {
		t.Fatalf("chunk %v should stay loaded at distance 3", edge)
	}

	h.s.Tick(viewerAt(-2), -1)
	if _, ok := h.store.Lookup(edge); ok {
		t.Fatalf("chunk %v should be unloaded at distance 4", edge)
	}
}

// gated blocks generation until its gate is closed.
type gated struct {
	Generator
	gate chan struct{}
}

func (g gated) Generate(pos voxel.ChunkPos, lod int) (*voxel.Grid, error) {
	<-g.gate
	return g.Generator.Generate(pos, lod)
}

func TestUnloadDiscardsTasksInFlight(t *testing.T) {
	gen := gated{Generator: density.Config{Geometry: geom, Oracle: waves}.New(), gate: make(chan struct{})}
	h := newHarness(t, gen, Config{LoadRadius: 1, UnloadRadius: 2, Workers: 2})

	report := h.s.Tick(viewerAt(0), -1)
	if report.Dispatched != 2 || report.InFlight != 2 {
		t.Fatalf("expected two tasks in flight, got %+v", report)
	}

	far := viewerAt(100)
	report = h.s.Tick(far, -1)
	if report.Enqueued[KindUnload] != 27 || report.Unloaded != 25 {
		t.Fatalf("unexpected unload report %+v", report)
	}
	if n := h.store.Count()[store.Unloading]; n != 2 {
		t.Fatalf("expected the two busy chunks to be unloading, got %d", n)
	}

	close(gen.gate)
	h.runUntilIdle(t, far)
	cube(voxel.ChunkPos{}, 1, func(pos voxel.ChunkPos) {
		if _, ok := h.store.Lookup(pos); ok {
			t.Fatalf("chunk %v was not unloaded", pos)
		}
		if h.rec.Upserts(pos) != 0 {
			t.Fatalf("unloaded chunk %v reached the sink", pos)
		}
	})
	if n := h.s.Metrics().Snapshot().Discarded[KindGenerate]; n != 2 {
		t.Fatalf("expected 2 discarded results, got %d", n)
	}
	if n := h.store.Count()[store.Ready]; n != 27 {
		t.Fatalf("expected 27 ready chunks around the viewer, got %d", n)
	}
}

// inside reports if v lies in [lo, hi].
func inside(v, lo, hi float64) bool { return v >= lo && v <= hi }

func TestFailedChunks(t *testing.T) {
	// The oracle fails in the interior of chunks (1, 0, 0) and (-1, 0, 0),
	// away from the samples and skirts of their neighbours.
	oracle := noise.Func(func(pos mgl64.Vec3, p noise.Params) (float64, error) {
		if (inside(pos[0], 18, 30) || inside(pos[0], -14, -2)) && inside(pos[1], 2, 14) && inside(pos[2], 2, 14) {
			return 0, errors.New("oracle offline")
		}
		return waves(pos, p)
	})
	var logs bytes.Buffer
	h := newHarness(t, density.Config{Geometry: geom, Oracle: oracle}.New(), Config{
		Log:        slog.New(slog.NewTextHandler(&logs, nil)),
		LoadRadius: 1, UnloadRadius: 2, Workers: 2, MaxRetries: 2,
	})
	h.runUntilIdle(t, viewerAt(0))

	for _, pos := range []voxel.ChunkPos{{1, 0, 0}, {-1, 0, 0}} {
		v, ok := h.store.Lookup(pos)
		if !ok || v.State != store.Failed {
			t.Fatalf("chunk %v should have failed, got %v", pos, v.State)
		}
		if h.rec.Upserts(pos) != 0 {
			t.Fatalf("failed chunk %v reached the sink", pos)
		}
		if h.s.Metrics().Failures(pos) != 1 {
			t.Fatalf("unexpected failure count for %v", pos)
		}
	}
	if n := h.store.Count()[store.Ready]; n != 25 {
		t.Fatalf("expected 25 ready chunks, got %d", n)
	}
	if n := strings.Count(logs.String(), "terrain chunk failed"); n != 1 {
		t.Fatalf("expected failures to be logged once, got %d", n)
	}
}

func TestLODChanges(t *testing.T) {
	h := newHarness(t, nil, Config{LoadRadius: 2, UnloadRadius: 3, Workers: 4, LODThresholds: []int{1}, LODLevels: 2})
	h.runUntilIdle(t, viewerAt(0))

	lodOf := func(pos voxel.ChunkPos) int {
		t.Helper()
		buf, ok := h.rec.Mesh(pos)
		if !ok {
			t.Fatalf("chunk %v has no mesh", pos)
		}
		return buf.LOD
	}
	if lodOf(voxel.ChunkPos{0, 0, 0}) != 0 || lodOf(voxel.ChunkPos{1, 0, 0}) != 1 || lodOf(voxel.ChunkPos{2, 0, 0}) != 1 {
		t.Fatalf("unexpected levels of detail around the viewer")
	}

	h.runUntilIdle(t, viewerAt(1))
	if lodOf(voxel.ChunkPos{0, 0, 0}) != 1 || lodOf(voxel.ChunkPos{1, 0, 0}) != 0 {
		t.Fatalf("levels of detail did not follow the viewer")
	}
	if h.rec.Upserts(voxel.ChunkPos{0, 0, 0}) < 2 {
		t.Fatalf("chunk that changed level of detail was not meshed again")
	}
	if v, _ := h.store.Lookup(voxel.ChunkPos{1, 0, 0}); v.Grid.LOD != 0 || v.LOD != 0 {
		t.Fatalf("grid of the centre chunk not regenerated at lod 0")
	}
}

func TestInvalidate(t *testing.T) {
	h := newHarness(t, nil, Config{LoadRadius: 1, UnloadRadius: 2, Workers: 2})
	h.runUntilIdle(t, viewerAt(0))

	pos := voxel.ChunkPos{0, 0, 0}
	h.s.Invalidate(pos)
	if !h.s.Pending(Request{Pos: pos, Kind: KindGenerate}) {
		t.Fatalf("invalidated chunk was not requested again")
	}
	if v, _ := h.store.Lookup(pos); v.State != store.Generating || v.Mesh == nil {
		t.Fatalf("invalidated chunk should be generating and keep its mesh, got %v", v.State)
	}
	h.runUntilIdle(t, viewerAt(0))
	if n := h.rec.Upserts(pos); n != 2 {
		t.Fatalf("expected chunk to be upserted twice, got %d", n)
	}

	// Invalidating a chunk that is not loaded is a no-op.
	h.s.Invalidate(voxel.ChunkPos{50, 0, 0})
	if !h.s.Idle() {
		t.Fatalf("invalidating an absent chunk produced work")
	}
}

func TestLODFor(t *testing.T) {
	s := &Scheduler{conf: Config{LODThresholds: []int{4, 8}}.withDefaults()}
	cases := map[int]int{0: 0, 3: 0, 4: 1, 7: 1, 8: 2, 100: 2}
	for d, want := range cases {
		if got := s.lodFor(d); got != want {
			t.Fatalf("lodFor(%d) = %d, want %d", d, got, want)
		}
	}
	s.conf.LODLevels = 2
	if got := s.lodFor(100); got != 1 {
		t.Fatalf("level of detail not capped: %d", got)
	}
}

// held blocks the generation of one chunk until it is released and
// counts the calls made to it.
type held struct {
	Generator
	pos  voxel.ChunkPos
	gate chan struct{}
	once sync.Once

	mu        sync.Mutex
	generated map[voxel.ChunkPos]int
	skirts    map[voxel.ChunkPos][6]int
}

func newHeld(pos voxel.ChunkPos) *held {
	return &held{
		Generator: density.Config{Geometry: geom, Oracle: waves}.New(),
		pos:       pos,
		gate:      make(chan struct{}),
		generated: make(map[voxel.ChunkPos]int),
		skirts:    make(map[voxel.ChunkPos][6]int),
	}
}

// release lets the generation of the held chunk go ahead.
func (g *held) release() { g.once.Do(func() { close(g.gate) }) }

func (g *held) Generate(pos voxel.ChunkPos, lod int) (*voxel.Grid, error) {
	if pos == g.pos {
		<-g.gate
	}
	g.mu.Lock()
	g.generated[pos]++
	g.mu.Unlock()
	return g.Generator.Generate(pos, lod)
}

func (g *held) Skirt(pos voxel.ChunkPos, lod int, face voxel.Face) (*voxel.Skirt, error) {
	g.mu.Lock()
	n := g.skirts[pos]
	n[face]++
	g.skirts[pos] = n
	g.mu.Unlock()
	return g.Generator.Skirt(pos, lod, face)
}

func (g *held) counts() (generated map[voxel.ChunkPos]int, skirts map[voxel.ChunkPos][6]int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	generated = make(map[voxel.ChunkPos]int, len(g.generated))
	for pos, n := range g.generated {
		generated[pos] = n
	}
	skirts = make(map[voxel.ChunkPos][6]int, len(g.skirts))
	for pos, n := range g.skirts {
		skirts[pos] = n
	}
	return generated, skirts
}

func TestMeshDefersForMissingNeighbour(t *testing.T) {
	blocked := voxel.ChunkPos{1, 0, 0}
	gen := newHeld(blocked)
	h := newHarness(t, gen, Config{LoadRadius: 1, UnloadRadius: 2, Workers: 2, SkirtTimeout: 3})
	t.Cleanup(gen.release)

	origin := voxel.ChunkPos{}
	h.runUntil(t, viewerAt(0), -1, h.ready(origin))
	if n := h.s.Metrics().Snapshot().Deferrals; n < 3 {
		t.Fatalf("expected meshing to wait for the neighbour at least 3 times, got %d", n)
	}
	_, skirts := gen.counts()
	if skirts[origin][voxel.FaceEast] == 0 {
		t.Fatalf("skirt towards the missing neighbour was not sampled from the oracle")
	}
	if v, _ := h.store.Lookup(blocked); v.State != store.Generating {
		t.Fatalf("blocked chunk should still be generating, got %v", v.State)
	}

	gen.release()
	h.runUntilIdle(t, viewerAt(0))
	if n := h.store.Count()[store.Ready]; n != 27 {
		t.Fatalf("expected 27 ready chunks, got %d", n)
	}
	if n := h.rec.Upserts(origin); n != 1 {
		t.Fatalf("chunk meshed with an oracle skirt of equal level was meshed %d times, want 1", n)
	}
}

func TestDeferredUnloadWins(t *testing.T) {
	gen := newHeld(voxel.ChunkPos{100, 0, 0})
	gen.release()
	h := newHarness(t, gen, Config{LoadRadius: 2, UnloadRadius: 3, Workers: 2, DispatchBudget: 4, UnloadBudget: 1})

	h.s.Tick(viewerAt(0), -1)
	before, _ := gen.counts()

	// Shrinking the radius to 0 releases every chunk at distance 2, one per
	// tick. Their pending Generate requests must never run.
	report := h.s.Tick(viewerAt(0), 0)
	if report.Enqueued[KindUnload] != 98 {
		t.Fatalf("expected 98 unload requests, got %d", report.Enqueued[KindUnload])
	}
	h.runUntil(t, viewerAt(0), 0, h.s.Idle)

	after, _ := gen.counts()
	late := 0
	for pos, n := range after {
		if pos.Chebyshev(voxel.ChunkPos{}) == 2 {
			late += n - before[pos]
		}
	}
	// At most the tasks already in flight before the shrink may finish.
	if late > 2 {
		t.Fatalf("%d chunks awaiting unload were generated", late)
	}
	if n := h.store.Len(); n != 27 {
		t.Fatalf("expected 27 chunks within the unload distance, got %d", n)
	}
	if n := h.store.Count()[store.Ready]; n != 27 {
		t.Fatalf("expected 27 ready chunks, got %d", n)
	}
}

// boundary returns the world positions of the vertices of b on the plane
// x = x.
func boundary(b *mesh.Buffer, x float64) []mgl64.Vec3 {
	var out []mgl64.Vec3
	for i := range b.Vertices {
		if p := b.World(i); math.Abs(p[0]-x) < 1e-4 {
			out = append(out, p)
		}
	}
	return out
}

func TestSeamFollowsNeighbourLODBeforeFirstMesh(t *testing.T) {
	x, y := voxel.ChunkPos{2, 0, 0}, voxel.ChunkPos{1, 0, 0}
	gen := newHeld(x)
	h := newHarness(t, gen, Config{LoadRadius: 2, UnloadRadius: 3, Workers: 2, LODThresholds: []int{2}, LODLevels: 2})
	t.Cleanup(gen.release)

	// y is meshed while x, targeted at level 1, has no grid yet.
	h.runUntil(t, viewerAt(0), -1, h.ready(y))
	if v, _ := h.store.Lookup(y); v.Mesh.NeighbourLOD[voxel.FaceEast] != 1 {
		t.Fatalf("expected y to be meshed against level 1, got %v", v.Mesh.NeighbourLOD)
	}

	// Moving the viewer makes x a level 0 chunk before it has ever been meshed.
	h.s.Tick(viewerAt(1), -1)
	gen.release()
	h.runUntilIdle(t, viewerAt(1))

	yv, _ := h.store.Lookup(y)
	xv, _ := h.store.Lookup(x)
	if xv.Mesh == nil || xv.Mesh.LOD != 0 || yv.Mesh.LOD != 0 {
		t.Fatalf("unexpected levels of detail: x %v, y %v", xv.LOD, yv.LOD)
	}
	if yv.Mesh.NeighbourLOD[voxel.FaceEast] != 0 {
		t.Fatalf("y kept a seam flattened for level %d", yv.Mesh.NeighbourLOD[voxel.FaceEast])
	}
	if h.rec.Upserts(y) < 2 {
		t.Fatalf("y was not meshed again")
	}

	plane := geom.Origin(x)[0]
	xs, ys := boundary(xv.Mesh, plane), boundary(yv.Mesh, plane)
	if len(xs) == 0 {
		t.Fatalf("surface does not cross the seam")
	}
	for _, p := range xs {
		found := false
		for _, q := range ys {
			if p.ApproxEqualThreshold(q, 1e-3) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("seam vertex %v of x has no counterpart in y", p)
		}
	}
}
