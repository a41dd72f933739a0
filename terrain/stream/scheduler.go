// Package stream decides which chunks are materialised around a viewer and
// drives them through generation, meshing and unloading on a worker pool.
package stream

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alitto/pond/v2"
	"github.com/dm-vev/voxelterrain/terrain/density"
	"github.com/dm-vev/voxelterrain/terrain/mesh"
	"github.com/dm-vev/voxelterrain/terrain/sink"
	"github.com/dm-vev/voxelterrain/terrain/store"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/time/rate"
)

// Scheduler turns viewer movement into Generate, Mesh and Unload requests and
// dispatches them to workers within per tick budgets. All methods other than
// Metrics must be called from a single goroutine, the one ticking it.
type Scheduler struct {
	conf Config
	log  *slog.Logger

	pool        pond.Pool
	completions chan result
	inFlight    int

	pending map[Request]struct{}

	viewer  mgl64.Vec3
	centre  voxel.ChunkPos
	radius  int
	scanned bool
	// dirty is set when a chunk was evicted late, so that the next tick scans
	// the load set again even if the viewer did not move.
	dirty bool

	failures   *rate.Limiter
	suppressed int

	tick   uint64
	report Report
	closed bool
}

// New creates a Scheduler using the Config. It panics if Store, Generator or
// Mesher is nil.
func (conf Config) New() *Scheduler {
	if conf.Store == nil || conf.Generator == nil || conf.Mesher == nil {
		panic("stream: scheduler requires store, generator and mesher")
	}
	conf = conf.withDefaults()
	return &Scheduler{
		conf:        conf,
		log:         conf.Log,
		pool:        pond.NewPool(conf.Workers),
		completions: make(chan result, conf.Workers),
		pending:     make(map[Request]struct{}),
		radius:      conf.LoadRadius,
		failures:    rate.NewLimiter(rate.Every(conf.FailureLogInterval), 1),
	}
}

// Tick runs a single step of the scheduler for a viewer at the world position
// passed. A negative radius uses the configured load radius. Tick applies
// finished task results, recomputes the load set if the viewer changed chunk
// or radius, releases chunks out of range and dispatches pending work.
func (s *Scheduler) Tick(viewer mgl64.Vec3, radius int) Report {
	if s.closed {
		return Report{}
	}
	if radius < 0 {
		radius = s.conf.LoadRadius
	}
	s.tick++
	s.report = Report{Tick: s.tick}
	s.viewer = viewer

	s.drain()

	centre := s.conf.Geometry.ChunkAt(viewer)
	if !s.scanned || s.dirty || centre != s.centre || radius != s.radius {
		s.centre, s.radius, s.scanned, s.dirty = centre, radius, true, false
		s.scan()
	}
	s.unload()
	s.dispatch()

	s.report.Pending, s.report.InFlight = len(s.pending), s.inFlight
	s.conf.Metrics.SetQueue(len(s.pending), s.inFlight)
	return s.report
}

// LastTick returns the report of the last Tick.
func (s *Scheduler) LastTick() Report {
	return s.report
}

// Idle reports if no work is pending or in flight.
func (s *Scheduler) Idle() bool {
	return len(s.pending) == 0 && s.inFlight == 0 && !s.dirty
}

// Pending reports if a request is pending.
func (s *Scheduler) Pending(r Request) bool {
	_, ok := s.pending[r]
	return ok
}

// Metrics returns the metrics of the Scheduler.
func (s *Scheduler) Metrics() *Metrics {
	return s.conf.Metrics
}

// Invalidate discards the grid of the chunk at pos, if loaded, and requests it
// to be generated again. The current mesh stays with the sink until the new
// one replaces it. Tasks in flight for the chunk produce stale results.
func (s *Scheduler) Invalidate(pos voxel.ChunkPos) {
	regenerate := false
	err := s.conf.Store.Update(pos, func(c *store.Chunk) error {
		switch c.State() {
		case store.Unloaded, store.Unloading:
			return nil
		}
		c.Invalidate()
		c.Retries, c.Deferrals = 0, 0
		regenerate = true
		return c.Transition(store.Generating)
	})
	s.check(err)
	if regenerate {
		delete(s.pending, Request{Pos: pos, Kind: KindMesh})
		s.enqueue(Request{Pos: pos, Kind: KindGenerate})
	}
}

// Close waits for all tasks in flight to finish and stops the workers. The
// Scheduler must not be ticked afterwards.
func (s *Scheduler) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.pool.StopAndWait()
	s.inFlight = 0
	clear(s.pending)
}

// lodFor returns the level of detail of a chunk at a chunk distance d from
// the viewer.
func (s *Scheduler) lodFor(d int) int {
	lod := len(s.conf.LODThresholds)
	for i, t := range s.conf.LODThresholds {
		if d < t {
			lod = i
			break
		}
	}
	return min(lod, s.conf.LODLevels-1)
}

// unloadDistance returns the distance beyond which chunks are released.
func (s *Scheduler) unloadDistance() int {
	return s.radius + s.conf.UnloadRadius - s.conf.LoadRadius
}

// scan creates chunks entering the load set, updates the target level of
// detail and collision of chunks already loaded and requests chunks beyond
// the unload distance to be released.
func (s *Scheduler) scan() {
	far := s.unloadDistance()
	for _, pos := range s.conf.Store.Positions() {
		unload := Request{Pos: pos, Kind: KindUnload}
		if pos.Chebyshev(s.centre) <= far {
			if s.Pending(unload) {
				// The viewer came back before the chunk was released.
				delete(s.pending, unload)
				s.resume(pos)
			}
			continue
		}
		if view, ok := s.conf.Store.Lookup(pos); ok && view.State != store.Unloading {
			s.enqueue(unload)
		}
	}

	r := int32(s.radius)
	for dy := -r; dy <= r; dy++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				s.load(s.centre.Add(voxel.ChunkPos{dx, dy, dz}))
			}
		}
	}
}

// resume requests the work a chunk was left waiting for while an Unload was
// pending for it. Chunks with a task in flight request their next step when
// it completes. Neighbours meshed without the chunk are meshed again if its
// grid changes their seams.
func (s *Scheduler) resume(pos voxel.ChunkPos) {
	view, ok := s.conf.Store.Lookup(pos)
	if !ok {
		return
	}
	s.remeshNeighbours(pos)
	if view.Busy {
		return
	}
	switch view.State {
	case store.Generating:
		s.enqueue(Request{Pos: pos, Kind: KindGenerate})
	case store.Meshing:
		if view.Grid != nil {
			s.enqueue(Request{Pos: pos, Kind: KindMesh})
		}
	case store.Ready:
		if s.seamsStale(view) {
			s.enqueue(Request{Pos: pos, Kind: KindMesh})
		}
	}
}

// load makes sure the chunk at pos, which lies within the load radius, exists
// and is headed for the right level of detail.
func (s *Scheduler) load(pos voxel.ChunkPos) {
	d := pos.Chebyshev(s.centre)
	lod, collision := s.lodFor(d), d <= s.conf.CollisionRadius

	view, created := s.conf.Store.GetOrCreate(pos)
	if created {
		err := s.conf.Store.Update(pos, func(c *store.Chunk) error {
			c.LOD, c.Collision = lod, collision
			return c.Transition(store.Generating)
		})
		s.check(err)
		s.enqueue(Request{Pos: pos, Kind: KindGenerate})
		return
	}
	switch view.State {
	case store.Unloading, store.Failed:
		return
	}
	if view.LOD != lod {
		s.check(s.conf.Store.Update(pos, func(c *store.Chunk) error {
			c.LOD = lod
			return nil
		}))
		s.enqueue(Request{Pos: pos, Kind: KindGenerate})
	}
	if view.Collision != collision {
		s.check(s.conf.Store.Update(pos, func(c *store.Chunk) error {
			c.Collision = collision
			return nil
		}))
		if view.Mesh != nil {
			s.setCollision(pos, collision)
		}
	}
}

// unload releases chunks with a pending Unload request, farthest first, up to
// the unload budget. Unload wins over any other request for the same chunk.
func (s *Scheduler) unload() {
	var queue []voxel.ChunkPos
	for r := range s.pending {
		if r.Kind == KindUnload {
			queue = append(queue, r.Pos)
		}
	}
	slices.SortFunc(queue, func(a, b voxel.ChunkPos) int {
		if c := cmp.Compare(b.Chebyshev(s.centre), a.Chebyshev(s.centre)); c != 0 {
			return c
		}
		return comparePos(a, b)
	})
	if len(queue) > s.conf.UnloadBudget {
		queue = queue[:s.conf.UnloadBudget]
		s.conf.Metrics.IncBackpressure()
	}

	for _, pos := range queue {
		for k := range kindCount {
			delete(s.pending, Request{Pos: pos, Kind: k})
		}
		var hadMesh, collision, busy bool
		err := s.conf.Store.Update(pos, func(c *store.Chunk) error {
			hadMesh, collision, busy = c.Mesh != nil, c.Collision, c.Busy()
			c.Mesh, c.Grid = nil, nil
			return c.Transition(store.Unloading)
		})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		s.check(err)
		if hadMesh {
			if collision {
				s.setCollision(pos, false)
			}
			s.conf.Sink.Remove(pos)
		}
		if busy {
			// Evicted once the task in flight reports back.
			continue
		}
		_ = s.conf.Store.Evict(pos)
		s.report.Unloaded++
		s.conf.Metrics.AddUnloaded(1)
	}
}

// dispatch hands pending Generate and Mesh requests to workers, nearest chunk
// first, until the dispatch budget or the workers are exhausted.
func (s *Scheduler) dispatch() {
	queue := make([]Request, 0, len(s.pending))
	for r := range s.pending {
		if r.Kind != KindUnload && !s.Pending(Request{Pos: r.Pos, Kind: KindUnload}) {
			queue = append(queue, r)
		}
	}
	dist := func(pos voxel.ChunkPos) float64 {
		return s.conf.Geometry.Centre(pos).Sub(s.viewer).LenSqr()
	}
	slices.SortFunc(queue, func(a, b Request) int {
		if c := cmp.Compare(dist(a.Pos), dist(b.Pos)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return comparePos(a.Pos, b.Pos)
	})

	dispatched := 0
	for _, r := range queue {
		if dispatched >= s.conf.DispatchBudget || s.inFlight >= s.conf.Workers {
			s.conf.Metrics.IncBackpressure()
			break
		}
		var ok bool
		switch r.Kind {
		case KindGenerate:
			ok = s.dispatchGenerate(r.Pos)
		case KindMesh:
			ok = s.dispatchMesh(r.Pos)
		}
		if ok {
			dispatched++
			s.report.Dispatched++
			s.conf.Metrics.IncDispatched(r.Kind)
		}
	}
}

func (s *Scheduler) dispatchGenerate(pos voxel.ChunkPos) bool {
	req := Request{Pos: pos, Kind: KindGenerate}
	t, err := s.conf.Store.Begin(pos)
	if errors.Is(err, store.ErrBusy) {
		return false
	} else if err != nil {
		delete(s.pending, req)
		return false
	}
	var lod int
	err = s.conf.Store.Update(pos, func(c *store.Chunk) error {
		lod = c.LOD
		return c.Transition(store.Generating)
	})
	delete(s.pending, req)
	if err != nil {
		s.check(err)
		s.release(t)
		return false
	}
	s.submit(func() result {
		grid, err := s.conf.Generator.Generate(pos, lod)
		return result{ticket: t, kind: KindGenerate, grid: grid, err: err}
	}, t, KindGenerate)
	return true
}

func (s *Scheduler) dispatchMesh(pos voxel.ChunkPos) bool {
	req := Request{Pos: pos, Kind: KindMesh}
	view, ok := s.conf.Store.Lookup(pos)
	if !ok || view.Grid == nil || (view.State != store.Meshing && view.State != store.Ready) {
		// A Generating chunk requests meshing again once its grid is done.
		delete(s.pending, req)
		return false
	}
	if view.Busy {
		return false
	}
	g := view.Grid

	var (
		skirts     [6]*voxel.Skirt
		lods       [6]int
		substitute [6]bool
		missing    bool
	)
	neighbours := s.conf.Store.SnapshotNeighbours(pos)
	for _, f := range voxel.Faces() {
		n := neighbours[f]
		lods[f] = g.LOD
		switch {
		case !n.Present:
			if pos.Side(f).Chebyshev(s.centre) <= s.radius {
				missing = true
			} else {
				substitute[f] = true
			}
			continue
		case s.leaving(n):
			substitute[f] = true
			continue
		}
		lods[f] = seamLOD(g.LOD, n)
		if n.Grid != nil {
			if sk, ok := g.SkirtFrom(f, n.Grid); ok {
				skirts[f] = sk
				continue
			}
			substitute[f] = true
			continue
		}
		if n.LOD > g.LOD {
			substitute[f] = true
			continue
		}
		missing = true
	}

	if missing {
		deferrals := 0
		s.check(s.conf.Store.Update(pos, func(c *store.Chunk) error {
			c.Deferrals++
			deferrals = c.Deferrals
			return nil
		}))
		s.report.Deferred++
		s.conf.Metrics.IncDeferrals()
		if deferrals < s.conf.SkirtTimeout {
			return false
		}
		for _, f := range voxel.Faces() {
			if skirts[f] == nil {
				substitute[f] = true
			}
		}
	}

	t, err := s.conf.Store.Begin(pos)
	if errors.Is(err, store.ErrBusy) {
		return false
	} else if err != nil {
		delete(s.pending, req)
		return false
	}
	err = s.conf.Store.Update(pos, func(c *store.Chunk) error {
		if c.Grid != g {
			return fmt.Errorf("mesh chunk %v: grid replaced", pos)
		}
		return c.Transition(store.Meshing)
	})
	delete(s.pending, req)
	if err != nil {
		s.check(err)
		s.release(t)
		return false
	}
	s.submit(func() result {
		res := result{ticket: t, kind: KindMesh, grid: g}
		for _, f := range voxel.Faces() {
			if !substitute[f] {
				continue
			}
			if skirts[f], res.err = s.conf.Generator.Skirt(pos, g.LOD, f); res.err != nil {
				return res
			}
		}
		res.buf, res.err = s.conf.Mesher.Extract(g, skirts, lods)
		return res
	}, t, KindMesh)
	return true
}

// submit runs a task on the worker pool and sends its result back to the
// ticking goroutine. Panics in tasks are reported as errors.
func (s *Scheduler) submit(task func() result, t store.Ticket, kind Kind) {
	s.inFlight++
	s.pool.Submit(func() {
		res := result{ticket: t, kind: kind}
		defer func() {
			if r := recover(); r != nil {
				res = result{ticket: t, kind: kind, err: fmt.Errorf("%v chunk %v: panic: %v", kind, t.Pos, r)}
			}
			s.completions <- res
		}()
		res = task()
	})
}

// release marks a ticket finished without a result.
func (s *Scheduler) release(t store.Ticket) {
	_, _ = s.conf.Store.Finish(t)
}

// drain applies all task results that arrived since the last tick.
func (s *Scheduler) drain() {
	for {
		select {
		case res := <-s.completions:
			s.inFlight--
			s.complete(res)
		default:
			return
		}
	}
}

func (s *Scheduler) complete(res result) {
	pos := res.ticket.Pos
	view, err := s.conf.Store.Finish(res.ticket)
	if err != nil {
		s.discard(res.kind)
		if view.State == store.Unloading {
			if s.conf.Store.Evict(pos) == nil {
				s.report.Unloaded++
				s.conf.Metrics.AddUnloaded(1)
			}
			s.dirty = true
		}
		return
	}
	switch res.kind {
	case KindGenerate:
		s.completeGenerate(view, res)
	case KindMesh:
		s.completeMesh(view, res)
	}
}

func (s *Scheduler) completeGenerate(view store.View, res result) {
	pos := view.Pos
	if res.err != nil {
		s.retryOrFail(view, KindGenerate, res.err)
		return
	}
	if res.grid.LOD != view.LOD {
		// The target level of detail changed while generating. A Generate
		// request for the new level is already pending.
		s.discard(KindGenerate)
		return
	}
	s.report.Completed++

	s.check(s.conf.Store.Update(pos, func(c *store.Chunk) error {
		c.Grid = res.grid
		c.Retries, c.Deferrals = 0, 0
		return c.Transition(store.Meshing)
	}))
	s.enqueue(Request{Pos: pos, Kind: KindMesh})

	s.remeshNeighbours(pos)
}

func (s *Scheduler) completeMesh(view store.View, res result) {
	pos := view.Pos
	if view.Grid != res.grid || view.State != store.Meshing {
		s.discard(KindMesh)
		return
	}
	if res.err != nil {
		if errors.Is(res.err, mesh.ErrDeferred) {
			s.enqueue(Request{Pos: pos, Kind: KindMesh})
			return
		}
		s.retryOrFail(view, KindMesh, res.err)
		return
	}
	s.report.Completed++

	s.check(s.conf.Store.Update(pos, func(c *store.Chunk) error {
		c.Mesh = res.buf
		c.Retries, c.Deferrals = 0, 0
		return c.Transition(store.Ready)
	}))
	s.conf.Sink.Upsert(pos, res.buf.LOD, res.buf)
	if view.Collision {
		s.setCollision(pos, true)
	}
	// A neighbour grid may have completed at another level while meshing.
	if s.seamsStale(store.View{Pos: pos, Grid: res.grid, Mesh: res.buf}) {
		s.enqueue(Request{Pos: pos, Kind: KindMesh})
	}
}

// remeshNeighbours requests the Ready neighbours of the chunk at pos to be
// meshed again if their seams with it were built against another level of
// detail, including a target level guessed before its grid existed.
func (s *Scheduler) remeshNeighbours(pos voxel.ChunkPos) {
	for _, f := range voxel.Faces() {
		npos := pos.Side(f)
		if n, ok := s.conf.Store.Lookup(npos); ok && n.State == store.Ready && s.seamsStale(n) {
			s.enqueue(Request{Pos: npos, Kind: KindMesh})
		}
	}
}

// leaving reports if a neighbour will not provide a grid to mesh against,
// because it failed or is about to be released.
func (s *Scheduler) leaving(n store.Neighbour) bool {
	return n.State == store.Failed || n.State == store.Unloading || s.Pending(Request{Pos: n.Pos, Kind: KindUnload})
}

// seamLOD returns the level of detail the face a chunk at lod shares with a
// neighbour is meshed at: that of the neighbour's grid, or its target level
// if it has none yet, unless the chunk itself is coarser.
func seamLOD(lod int, n store.Neighbour) int {
	nlod := n.LOD
	if n.Grid != nil {
		nlod = n.Grid.LOD
	}
	return max(lod, nlod)
}

// seamsStale reports if the mesh of a chunk was built against a level of
// detail other than that of a neighbour grid present now.
func (s *Scheduler) seamsStale(view store.View) bool {
	if view.Mesh == nil {
		return false
	}
	neighbours := s.conf.Store.SnapshotNeighbours(view.Pos)
	for _, f := range voxel.Faces() {
		n := neighbours[f]
		if !n.Present || n.Grid == nil || s.leaving(n) {
			continue
		}
		if view.Mesh.NeighbourLOD[f] != seamLOD(view.Mesh.LOD, n) {
			return true
		}
	}
	return false
}

// retryOrFail requests the work of a kind again if the error is retryable and
// the chunk has retries left, or marks the chunk failed otherwise.
func (s *Scheduler) retryOrFail(view store.View, kind Kind, err error) {
	if errors.Is(err, density.ErrOracleUnavailable) {
		retries := 0
		s.check(s.conf.Store.Update(view.Pos, func(c *store.Chunk) error {
			c.Retries++
			retries = c.Retries
			return nil
		}))
		if retries <= s.conf.MaxRetries {
			s.enqueue(Request{Pos: view.Pos, Kind: kind})
			return
		}
	}
	s.fail(view, err)
}

// fail marks the chunk failed. Its mesh, if any, is removed, leaving a hole
// until the chunk is requested again.
func (s *Scheduler) fail(view store.View, err error) {
	pos := view.Pos
	s.check(s.conf.Store.Update(pos, func(c *store.Chunk) error {
		c.Mesh = nil
		return c.Transition(store.Failed)
	}))
	for k := range kindCount {
		if k != KindUnload {
			delete(s.pending, Request{Pos: pos, Kind: k})
		}
	}
	if view.Mesh != nil {
		if view.Collision {
			s.setCollision(pos, false)
		}
		s.conf.Sink.Remove(pos)
	}
	s.report.Failed++
	s.conf.Metrics.IncFailure(pos)

	s.suppressed++
	if !s.failures.Allow() {
		return
	}
	s.log.Warn("terrain chunk failed: chunk will render as a hole.",
		"X", pos[0], "Y", pos[1], "Z", pos[2],
		"error", err,
		"failed_since_last_report", s.suppressed,
	)
	s.suppressed = 0
}

func (s *Scheduler) discard(kind Kind) {
	s.report.Discarded++
	s.conf.Metrics.IncDiscarded(kind)
}

// enqueue adds a request unless an equal one is pending. Unload wins: no
// Generate or Mesh request is added for a chunk with an Unload pending.
func (s *Scheduler) enqueue(r Request) {
	if _, ok := s.pending[r]; ok {
		return
	}
	if r.Kind != KindUnload && s.Pending(Request{Pos: r.Pos, Kind: KindUnload}) {
		return
	}
	s.pending[r] = struct{}{}
	s.report.Enqueued[r.Kind]++
}

func (s *Scheduler) setCollision(pos voxel.ChunkPos, enabled bool) {
	if c, ok := s.conf.Sink.(sink.CollisionSink); ok {
		c.SetCollision(pos, enabled)
	}
}

// check handles an error returned by a store operation. Missing chunks are
// expected while unloading.
func (s *Scheduler) check(err error) {
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return
	}
	if s.conf.StrictTransitions && errors.Is(err, store.ErrInvalidTransition) {
		panic(err)
	}
	s.log.Error("terrain chunk state error", "error", err)
}

func comparePos(a, b voxel.ChunkPos) int {
	for i := range 3 {
		if c := cmp.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}
