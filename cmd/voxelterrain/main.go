// Command voxelterrain streams terrain around a viewer flying at a constant
// velocity, without rendering it. Commands typed on stdin control the viewer
// and edit the terrain.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dm-vev/voxelterrain/terrain"
	"github.com/dm-vev/voxelterrain/terrain/console"
	"github.com/dm-vev/voxelterrain/terrain/sink"
	"github.com/dm-vev/voxelterrain/terrain/store"
	"github.com/go-gl/mathgl/mgl64"
)

func main() {
	path := flag.String("config", "terrain.toml", "path of the configuration file")
	debug := flag.Bool("debug", false, "log every mesh upload")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	uc, err := terrain.LoadUserConfig(*path)
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}
	conf, err := uc.Config(log)
	if err != nil {
		log.Error("convert config", "err", err)
		os.Exit(1)
	}
	rec := sink.NewRecorder()
	conf.Sink = sink.Log{Log: log, Next: rec}

	t, err := conf.New()
	if err != nil {
		log.Error("create terrain", "err", err)
		os.Exit(1)
	}
	t.Teleport(uc.ViewerStart())
	velocity := uc.ViewerVelocity()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go console.New(t, log).Run(ctx)
	go logStats(ctx, t, rec, log)

	log.Info("Streaming terrain.", "config", *path, "viewer", t.Viewer(), "radius", t.Radius())
	if err := t.Run(ctx, func() mgl64.Vec3 { return t.Viewer().Add(velocity) }); err != nil {
		log.Error("run terrain", "err", err)
	}
	if err := t.Close(); err != nil {
		log.Error("close terrain", "err", err)
	}
}

// logStats periodically logs the state of the terrain until ctx is cancelled.
func logStats(ctx context.Context, t *terrain.Terrain, rec *sink.Recorder, log *slog.Logger) {
	tc := time.NewTicker(10 * time.Second)
	defer tc.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tc.C:
			var (
				counts map[store.State]int
				viewer mgl64.Vec3
			)
			select {
			case <-t.Exec(func() { counts, viewer = t.Counts(), t.Viewer() }):
			case <-ctx.Done():
				return
			}
			m := t.Metrics()
			log.Info("Terrain stats.",
				"viewer", viewer,
				"tps", t.TPS(),
				"ready", counts[store.Ready],
				"generating", counts[store.Generating],
				"meshing", counts[store.Meshing],
				"failed", counts[store.Failed],
				"meshes", rec.Meshes(),
				"pending", m.Pending,
				"deferrals", m.Deferrals,
			)
		}
	}
}
