// Package console reads terrain commands from an io.Reader, one per line, and
// runs them against a terrain.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dm-vev/voxelterrain/terrain/store"
	"github.com/dm-vev/voxelterrain/terrain/stream"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
	"github.com/go-gl/mathgl/mgl64"
)

// Target is the terrain commands are run against. It is implemented by
// *terrain.Terrain.
type Target interface {
	// Exec runs f on the goroutine ticking the terrain.
	Exec(f func()) <-chan struct{}
	Teleport(pos mgl64.Vec3)
	Viewer() mgl64.Vec3
	SetRadius(r int)
	SetVoxel(c voxel.Coord, d float32, m voxel.Material) error
	ClearVoxel(c voxel.Coord) (bool, error)
	Voxel(c voxel.Coord) (float32, voxel.Material, error)
	Counts() map[store.State]int
	Report() stream.Report
	TPS() float64
	Save() error
}

var errUsage = errors.New("usage")

// Console reads commands from an io.Reader (defaulting to os.Stdin) and runs
// them on a Target, writing their output to a logger.
type Console struct {
	target Target
	log    *slog.Logger
	reader io.Reader
}

// New returns a Console bound to the target passed. The console reads from
// os.Stdin and writes command output to the supplied logger.
func New(target Target, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{
		target: target,
		log:    log,
		reader: os.Stdin,
	}
}

// WithReader sets a custom reader for the console input.
func (c *Console) WithReader(r io.Reader) *Console {
	if r != nil {
		c.reader = r
	}
	return c
}

// Run starts consuming commands from the console. It blocks until the context
// is cancelled or the underlying reader reaches EOF.
func (c *Console) Run(ctx context.Context) {
	scanner := bufio.NewScanner(c.reader)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.log.Error("console input error", "err", err)
			}
			return
		}
		line := strings.TrimPrefix(strings.TrimSpace(scanner.Text()), "/")
		if line == "" {
			continue
		}
		var (
			out string
			err error
		)
		<-c.target.Exec(func() {
			out, err = c.execute(strings.Fields(line))
		})
		switch {
		case errors.Is(err, errUsage):
			c.log.Error(err.Error())
		case err != nil:
			c.log.Error("command failed", "command", line, "err", err)
		case out != "":
			c.log.Info(out)
		}
	}
}

// execute runs a single command. It is called on the goroutine ticking the
// terrain.
func (c *Console) execute(args []string) (string, error) {
	switch name := strings.ToLower(args[0]); name {
	case "tp", "teleport":
		v, err := floats(args[1:], 3, "tp <x> <y> <z>")
		if err != nil {
			return "", err
		}
		pos := mgl64.Vec3{v[0], v[1], v[2]}
		c.target.Teleport(pos)
		return fmt.Sprintf("Teleported viewer to %.1f, %.1f, %.1f.", pos[0], pos[1], pos[2]), nil
	case "radius":
		if len(args) != 2 {
			return "", fmt.Errorf("%w: radius <chunks>", errUsage)
		}
		r, err := strconv.Atoi(args[1])
		if err != nil {
			return "", fmt.Errorf("%w: radius <chunks>", errUsage)
		}
		c.target.SetRadius(r)
		return fmt.Sprintf("Load radius set to %d.", r), nil
	case "set":
		if len(args) != 5 && len(args) != 6 {
			return "", fmt.Errorf("%w: set <x> <y> <z> <density> [material]", errUsage)
		}
		pos, err := coord(args[1:4], "set <x> <y> <z> <density> [material]")
		if err != nil {
			return "", err
		}
		d, err := strconv.ParseFloat(args[4], 32)
		if err != nil {
			return "", fmt.Errorf("%w: set <x> <y> <z> <density> [material]", errUsage)
		}
		m := voxel.Stone
		if len(args) == 6 {
			if m, err = voxel.ParseMaterial(args[5]); err != nil {
				return "", err
			}
		}
		if err := c.target.SetVoxel(pos, float32(d), m); err != nil {
			return "", err
		}
		return fmt.Sprintf("Set voxel %v to %v (%v).", pos, d, m), nil
	case "clear":
		pos, err := coord(args[1:], "clear <x> <y> <z>")
		if err != nil {
			return "", err
		}
		ok, err := c.target.ClearVoxel(pos)
		if err != nil {
			return "", err
		}
		if !ok {
			return fmt.Sprintf("Voxel %v was not edited.", pos), nil
		}
		return fmt.Sprintf("Cleared voxel %v.", pos), nil
	case "get":
		pos, err := coord(args[1:], "get <x> <y> <z>")
		if err != nil {
			return "", err
		}
		d, m, err := c.target.Voxel(pos)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Voxel %v: density %.3f, %v.", pos, d, m), nil
	case "stats":
		return c.stats(), nil
	case "save":
		if err := c.target.Save(); err != nil {
			return "", err
		}
		return "Saved voxel edits.", nil
	default:
		return "", fmt.Errorf("%w: unknown command %q, expected tp, radius, set, clear, get, stats or save", errUsage, name)
	}
}

func (c *Console) stats() string {
	counts := c.target.Counts()
	r := c.target.Report()
	v := c.target.Viewer()
	var b strings.Builder
	fmt.Fprintf(&b, "Viewer at %.1f, %.1f, %.1f, %.1f TPS.", v[0], v[1], v[2], c.target.TPS())
	for s := store.Unloaded; s <= store.Failed; s++ {
		if n := counts[s]; n > 0 {
			fmt.Fprintf(&b, " %v: %d", s, n)
		}
	}
	fmt.Fprintf(&b, " | pending %d, in flight %d.", r.Pending, r.InFlight)
	return b.String()
}

func floats(args []string, n int, usage string) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("%w: %s", errUsage, usage)
	}
	v := make([]float64, n)
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errUsage, usage)
		}
		v[i] = f
	}
	return v, nil
}

func coord(args []string, usage string) (voxel.Coord, error) {
	if len(args) != 3 {
		return voxel.Coord{}, fmt.Errorf("%w: %s", errUsage, usage)
	}
	var c voxel.Coord
	for i, a := range args {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return voxel.Coord{}, fmt.Errorf("%w: %s", errUsage, usage)
		}
		c[i] = v
	}
	return c, nil
}
