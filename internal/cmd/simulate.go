package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/tilescene/internal/bounds"
	"github.com/MeKo-Tech/tilescene/internal/crs"
	"github.com/MeKo-Tech/tilescene/internal/geomath"
	"github.com/MeKo-Tech/tilescene/internal/maptree"
	"github.com/MeKo-Tech/tilescene/internal/mbtiles"
	"github.com/MeKo-Tech/tilescene/internal/scene"
	"github.com/MeKo-Tech/tilescene/internal/source"
	"github.com/MeKo-Tech/tilescene/internal/tileindex"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run frames of a scene headlessly",
	Long: `Simulate steps the main loop a number of frames over a map quadtree
(procedural or MBTiles-backed) or a 3D Tiles tileset, reports how many
tiles each frame displays, and ends with a summary of the last frame.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().Int("frames", 10, "Number of frames to run")
	simulateCmd.Flags().String("source", "procedural", "Content source: procedural or mbtiles")
	simulateCmd.Flags().String("mbtiles", "", "MBTiles archive path (for --source mbtiles)")
	simulateCmd.Flags().String("tileset", "", "3D Tiles tileset.json path (runs a 3D Tiles scene instead of a map)")
	simulateCmd.Flags().String("extent", "0,0,1024,1024", "Map extent: minX,minY,maxX,maxY in EPSG:3857")
	simulateCmd.Flags().Int("max-level", 4, "Maximum subdivision level")
	simulateCmd.Flags().String("camera", "", "Camera position x,y,z (default: above the extent center)")
	simulateCmd.Flags().Int64("seed", 1337, "Seed for the procedural source")
	simulateCmd.Flags().Bool("progress", true, "Show a progress bar")
	simulateCmd.Flags().String("record", "", "Record fetched color tiles into an MBTiles file")

	bindFlags := []string{"frames", "source", "mbtiles", "tileset", "extent", "max-level", "camera", "seed", "record"}
	for _, key := range bindFlags {
		if err := viper.BindPFlag("simulate."+key, simulateCmd.Flags().Lookup(key)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	frames, _ := cmd.Flags().GetInt("frames")
	showProgress, _ := cmd.Flags().GetBool("progress")
	tilesetPath, _ := cmd.Flags().GetString("tileset")

	loop := scene.NewMainLoop(scene.Config{Logger: logger})

	var teardown func()
	var err error
	if tilesetPath != "" {
		err = addTilesScene(cmd, loop, tilesetPath)
	} else {
		teardown, err = addMapScene(cmd, loop)
	}
	if err != nil {
		return err
	}
	if teardown != nil {
		defer teardown()
	}

	progress := newFrameProgress(frames, showProgress)
	ctx := context.Background()

	for i := 0; i < frames; i++ {
		info := loop.Step(ctx)
		waitQuiescent(loop)
		progress.update(i+1, info.Displayed)
	}
	progress.done()

	// One more frame so the last settled requests reach the display set.
	final := loop.Step(ctx)
	fmt.Printf("frames: %d\n", final.Frame)
	fmt.Printf("displayed tiles: %d\n", final.Displayed)
	fmt.Printf("visited nodes (last frame): %d\n", final.Visited)
	fmt.Printf("cache entries: %d (%d bytes)\n", loop.Cache().Len(), loop.Cache().Size())
	for _, e := range loop.Entities() {
		fmt.Printf("entity %s: progress %.2f, loading %v\n", e.ID(), e.Progress(), e.Loading())
	}
	return nil
}

func addMapScene(cmd *cobra.Command, loop *scene.MainLoop) (func(), error) {
	extent, err := parseExtent(mustString(cmd, "extent"))
	if err != nil {
		return nil, err
	}
	maxLevel, _ := cmd.Flags().GetInt("max-level")
	seed, _ := cmd.Flags().GetInt64("seed")

	var src source.Source
	var teardown func()
	switch mustString(cmd, "source") {
	case "mbtiles":
		path := mustString(cmd, "mbtiles")
		if path == "" {
			return nil, fmt.Errorf("--source mbtiles requires --mbtiles")
		}
		mb, err := source.NewMBTiles(source.MBTilesConfig{Path: path, Logger: logger})
		if err != nil {
			return nil, err
		}
		teardown = func() { mb.Close() }
		src = mb
	default:
		src = source.NewProcedural(source.ProceduralConfig{Seed: seed})
	}

	if record := mustString(cmd, "record"); record != "" {
		rec, err := newRecordingSource(src, record, extent, maxLevel)
		if err != nil {
			return nil, err
		}
		prev := teardown
		teardown = func() {
			rec.close()
			if prev != nil {
				prev()
			}
		}
		src = rec
	}

	m := maptree.New(maptree.Config{
		ID:                  "map",
		Extent:              extent,
		MaxSubdivisionLevel: maxLevel,
		Source:              src,
		Logger:              logger,
	})
	if err := loop.AddEntity(m); err != nil {
		return nil, err
	}
	placeCamera(cmd, loop, extent)
	return teardown, nil
}

func addTilesScene(cmd *cobra.Command, loop *scene.MainLoop, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ts, err := tileindex.ParseTileset(data)
	if err != nil {
		return err
	}
	entity, err := tiles3dEntity(ts, path)
	if err != nil {
		return err
	}
	return loop.AddEntity(entity)
}

func placeCamera(cmd *cobra.Command, loop *scene.MainLoop, extent bounds.Extent) {
	cam := loop.Camera()
	center := extent.Center()
	cam.Position = geomath.Vec3{X: center[0], Y: center[1], Z: extent.Diagonal()}
	cam.Target = geomath.Vec3{X: center[0], Y: center[1]}
	cam.Up = geomath.Vec3{Y: 1}

	if spec := mustString(cmd, "camera"); spec != "" {
		parts := strings.Split(spec, ",")
		if len(parts) == 3 {
			x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			z, errZ := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
			if errX == nil && errY == nil && errZ == nil {
				cam.Position = geomath.Vec3{X: x, Y: y, Z: z}
				cam.Target = geomath.Vec3{X: x, Y: y}
			}
		}
	}
	cam.UpdateMatrix()
}

func parseExtent(spec string) (bounds.Extent, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return bounds.Extent{}, fmt.Errorf("extent must be minX,minY,maxX,maxY, got %q", spec)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return bounds.Extent{}, fmt.Errorf("invalid extent component %q: %w", p, err)
		}
		vals[i] = v
	}
	return bounds.NewExtent(crs.WebMercator, vals[0], vals[1], vals[2], vals[3]), nil
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

// waitQuiescent lets the current frame's requests drain before the next
// frame, so the simulation converges the way an interactive session
// would over many frames.
func waitQuiescent(loop *scene.MainLoop) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if loop.Queue().PendingRequests() == 0 && loop.Queue().ConcurrentRequests() == 0 {
			idle := true
			for _, e := range loop.Entities() {
				if e.Loading() {
					idle = false
					break
				}
			}
			if idle {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// recordingSource tees color textures fetched by the wrapped source into
// an MBTiles archive.
type recordingSource struct {
	inner  source.Source
	writer *mbtiles.Writer
}

func newRecordingSource(inner source.Source, path string, extent bounds.Extent, maxLevel int) (*recordingSource, error) {
	reg := crs.Default()
	geo := reg.ProjectBound(extent.CRS, crs.Geographic, extent.Bound)
	w, err := mbtiles.NewWriter(path, mbtiles.Metadata{
		Name:    "tilescene recording",
		Format:  "png",
		Bounds:  [4]float64{geo.Min[0], geo.Min[1], geo.Max[0], geo.Max[1]},
		MinZoom: 0,
		MaxZoom: maxLevel,
	})
	if err != nil {
		return nil, err
	}
	return &recordingSource{inner: inner, writer: w}, nil
}

func (r *recordingSource) GetData(ctx context.Context, req source.Request) (source.Payload, error) {
	payload, err := r.inner.GetData(ctx, req)
	if err != nil {
		return nil, err
	}
	if tex, ok := payload.(*source.TextureTile); ok && tex.Image != nil {
		var buf bytes.Buffer
		if encErr := png.Encode(&buf, tex.Image); encErr == nil {
			if wErr := r.writer.WriteTile(req.Level, req.X, req.Y, buf.Bytes()); wErr != nil {
				logger.Warn("recording tile failed", "tile", req.Key, "error", wErr)
			}
		}
	}
	return payload, nil
}

func (r *recordingSource) close() {
	if err := r.writer.Close(); err != nil {
		logger.Warn("closing recording failed", "error", err)
	}
}
