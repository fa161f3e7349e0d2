package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"github.com/beetlebugorg/lascat/pkg/las"
)

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// onePath parses fs and returns its single positional argument.
func onePath(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s: want exactly one path, got %d", fs.Name(), fs.NArg())
	}
	return fs.Arg(0), nil
}

func discoverOptions(cfg config) las.DiscoverOptions {
	opts := las.DefaultDiscoverOptions()
	opts.Workers = cfg.Workers
	opts.HeaderCache = cfg.HeaderCache
	return opts
}

func discover(ctx context.Context, cfg config, root string) (*las.Catalog, error) {
	cat, err := las.Discover(ctx, root, discoverOptions(cfg))
	if err != nil {
		return nil, err
	}
	for _, err := range cat.Skipped {
		glog.Warningf("skipped: %v", err)
	}
	if cat.Len() == 0 {
		return nil, fmt.Errorf("no LAS files under %s", root)
	}
	return cat, nil
}

// parseCodec accepts "raw" for an unframed payload in addition to the
// registered codec names.
func parseCodec(name string) (las.Codec, error) {
	if name == "" || name == "raw" {
		return 0, nil
	}
	return las.ParseCodec(name)
}

func codecName(c las.Codec) string {
	if c == 0 {
		return "raw"
	}
	return c.String()
}

// parseFloats splits a comma separated list of exactly n numbers.
func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma separated numbers, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func cmdInfo(ctx context.Context, cfg config, args []string, out io.Writer) error {
	fs := newFlagSet("info", out)
	path, err := onePath(fs, args)
	if err != nil {
		return err
	}
	cat, err := discover(ctx, cfg, path)
	if err != nil {
		return err
	}

	for _, f := range cat.Files() {
		fmt.Fprintf(out, "%s\n", f.Path)
		fmt.Fprintf(out, "  version:     %s\n", f.Version)
		fmt.Fprintf(out, "  format:      %d\n", f.PointFormat)
		fmt.Fprintf(out, "  points:      %d\n", f.PointCount)
		fmt.Fprintf(out, "  compression: %s\n", codecName(f.Compression))
		fmt.Fprintf(out, "  scale:       %g %g %g\n", f.Scale[0], f.Scale[1], f.Scale[2])
		fmt.Fprintf(out, "  bounds:      [%.3f, %.3f, %.3f] to [%.3f, %.3f, %.3f]\n",
			f.Bounds.MinX, f.Bounds.MinY, f.Bounds.MinZ, f.Bounds.MaxX, f.Bounds.MaxY, f.Bounds.MaxZ)
		if f.CRS != "" {
			fmt.Fprintf(out, "  crs:         %s\n", f.CRS)
		}
	}
	if cat.Len() > 1 {
		b := cat.Bounds()
		fmt.Fprintf(out, "catalog: %d files, %d points, [%.3f, %.3f] to [%.3f, %.3f]\n",
			cat.Len(), cat.PointCount(), b.MinX, b.MinY, b.MaxX, b.MaxY)
	}
	return nil
}

func cmdCheck(args []string, out io.Writer) error {
	fs := newFlagSet("check", out)
	path, err := onePath(fs, args)
	if err != nil {
		return err
	}
	ps, err := las.ReadFile(path, las.ReadOptions{})
	if err != nil {
		return err
	}

	report := ps.Validate()
	fmt.Fprintf(out, "%s: %d points\n%s\n", path, ps.Len(), report)
	if len(report.Errors) > 0 {
		return errIssues
	}
	return nil
}

func cmdQuery(args []string, out io.Writer) error {
	fs := newFlagSet("query", out)
	box := fs.String("box", "", "keep points in `minx,miny,maxx,maxy`")
	circle := fs.String("circle", "", "keep points within `x,y,r`")
	sel := fs.String("select", "", "fields to decode, e.g. \"xyzi\" or \"* -RGB\"")
	filter := fs.String("filter", "", "decode-time filter, e.g. \"-keep_first -drop_z_below 2\"")
	output := fs.String("o", "", "write the selected points to this file")
	codec := fs.String("compress", "raw", "payload codec for -o: raw|none|zstd|s2|lz4")
	path, err := onePath(fs, args)
	if err != nil {
		return err
	}

	var region las.Region
	switch {
	case *box != "" && *circle != "":
		return fmt.Errorf("query: -box and -circle are exclusive")
	case *box != "":
		v, err := parseFloats(*box, 4)
		if err != nil {
			return fmt.Errorf("query -box: %w", err)
		}
		region = las.Box{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}
	case *circle != "":
		v, err := parseFloats(*circle, 3)
		if err != nil {
			return fmt.Errorf("query -circle: %w", err)
		}
		region = las.Circle{X: v[0], Y: v[1], R: v[2]}
	}

	opts := las.ReadOptions{}
	if opts.Select, err = las.ParseSelect(*sel); err != nil {
		return err
	}
	if opts.Filter, err = las.ParseFilter(*filter); err != nil {
		return err
	}
	comp, err := parseCodec(*codec)
	if err != nil {
		return err
	}

	ps, err := las.ReadFile(path, opts)
	if err != nil {
		return err
	}
	if region != nil {
		if ps, err = ps.Clip(region); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "%d points\n", ps.Len())
	if *output == "" {
		return nil
	}
	return las.WriteFile(*output, ps, las.WriteOptions{Compression: comp, RegenerateHeader: true})
}

func engineOptions(cfg config, part las.Partitioner) las.EngineOptions {
	opts := las.DefaultEngineOptions()
	opts.Workers = cfg.Workers
	opts.Partition = part
	opts.CacheSize = cfg.CacheBytes
	opts.Progress = func(done, total int) {
		glog.V(1).Infof("%d/%d chunks", done, total)
	}
	return opts
}

func reportSummary(out io.Writer, s *las.Summary) error {
	fmt.Fprintln(out, s)
	if s.Failed > 0 {
		return fmt.Errorf("%d of %d chunks failed: %w", s.Failed, s.Total, s.Err())
	}
	return nil
}

func cmdRetile(ctx context.Context, cfg config, args []string, out io.Writer) error {
	fs := newFlagSet("retile", out)
	size := fs.Float64("size", 500, "tile edge length in coordinate units")
	output := fs.String("o", "tiles", "output directory")
	codec := fs.String("compress", "zstd", "payload codec: raw|none|zstd|s2|lz4")
	path, err := onePath(fs, args)
	if err != nil {
		return err
	}
	comp, err := parseCodec(*codec)
	if err != nil {
		return err
	}
	cat, err := discover(ctx, cfg, path)
	if err != nil {
		return err
	}

	eng := las.NewEngine(engineOptions(cfg, las.ByTile{Size: *size}))
	res, summary, err := eng.Run(ctx, cat, las.Retile(*output, las.WriteOptions{Compression: comp}))
	if err != nil {
		return err
	}
	for _, row := range res.Rows {
		fmt.Fprintf(out, "%v\t%v\n", row["path"], row["points"])
	}
	return reportSummary(out, summary)
}

func cmdTreeTops(ctx context.Context, cfg config, args []string, out io.Writer) error {
	fs := newFlagSet("treetops", out)
	window := fs.Float64("window", 3, "local maximum window diameter")
	minHeight := fs.Float64("min-height", 2, "ignore points below this height")
	tile := fs.Float64("tile", 0, "process in tiles of this size instead of per file")
	filter := fs.String("filter", "", "decode-time filter, e.g. \"-keep_first\"")
	path, err := onePath(fs, args)
	if err != nil {
		return err
	}
	f, err := las.ParseFilter(*filter)
	if err != nil {
		return err
	}
	cat, err := discover(ctx, cfg, path)
	if err != nil {
		return err
	}

	var part las.Partitioner = las.ByFile{Buffer: *window / 2}
	if *tile > 0 {
		part = las.ByTile{Size: *tile, Buffer: *window / 2}
	}
	opts := engineOptions(cfg, part)
	opts.Select = las.FieldXYZ
	opts.Filter = f

	res, summary, err := las.NewEngine(opts).Run(ctx, cat, las.TreeTops(*window, *minHeight))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "x,y,z")
	for _, t := range res.Features {
		fmt.Fprintf(out, "%.3f,%.3f,%.3f\n", t.X, t.Y, t.Z)
	}
	return reportSummary(out, summary)
}
