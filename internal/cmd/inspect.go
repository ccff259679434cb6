package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/tilescene/internal/mbtiles"
	"github.com/MeKo-Tech/tilescene/internal/tileindex"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Inspect an MBTiles archive or a 3D Tiles tileset",
	Long: `Inspect prints the metadata and tile distribution of an .mbtiles
archive, or the structure of a tileset.json: node counts, depth, refine
modes and how many nodes carry content.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(_ *cobra.Command, args []string) error {
	path := args[0]
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return inspectTileset(path)
	}
	return inspectMBTiles(path)
}

func inspectMBTiles(path string) error {
	r, err := mbtiles.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	meta, err := r.Metadata()
	if err != nil {
		return err
	}
	fmt.Printf("name: %s\n", meta.Name)
	fmt.Printf("format: %s\n", meta.Format)
	fmt.Printf("zoom: %d..%d\n", meta.MinZoom, meta.MaxZoom)
	fmt.Printf("bounds: %.6f,%.6f,%.6f,%.6f\n", meta.Bounds[0], meta.Bounds[1], meta.Bounds[2], meta.Bounds[3])

	hist, err := r.ZoomHistogram()
	if err != nil {
		return err
	}
	zooms := make([]int, 0, len(hist))
	for z := range hist {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)
	total := 0
	for _, z := range zooms {
		fmt.Printf("  z%-2d %d tiles\n", z, hist[z])
		total += hist[z]
	}
	fmt.Printf("total: %d tiles\n", total)
	return nil
}

func inspectTileset(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ts, err := tileindex.ParseTileset(data)
	if err != nil {
		return err
	}
	index, root, err := tileindex.Build(ts, path)
	if err != nil {
		return err
	}

	depth := 0
	refines := map[string]int{}
	withContent := 0
	var walk func(n *tileindex.Node)
	walk = func(n *tileindex.Node) {
		if n.Depth > depth {
			depth = n.Depth
		}
		refines[n.Refine.String()]++
		if n.HasContent() {
			withContent++
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)

	fmt.Printf("version: %s\n", ts.Asset.Version)
	fmt.Printf("geometric error: %g\n", ts.GeometricError)
	fmt.Printf("nodes: %d (depth %d, %d with content)\n", index.Len(), depth, withContent)
	for _, mode := range []string{"REPLACE", "ADD"} {
		if n := refines[mode]; n > 0 {
			fmt.Printf("  refine %s: %d\n", mode, n)
		}
	}
	return nil
}
