package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/kinetic/internal/api"
	"github.com/banshee-data/kinetic/internal/config"
	"github.com/banshee-data/kinetic/internal/db"
	"github.com/banshee-data/kinetic/internal/plotting"
	"github.com/banshee-data/kinetic/internal/security"
	"github.com/banshee-data/kinetic/internal/transform"
	"github.com/banshee-data/kinetic/internal/units"
)

type options struct {
	dbPath     string
	id         string
	list       bool
	configPath string
	gravity    string
	query      api.CurveQuery
	pngDir     string
	save       bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("kinetic-export", flag.ContinueOnError)
	fs.StringVar(&o.dbPath, "db", "kinetic.db", "path to the recordings database")
	fs.StringVar(&o.id, "id", "", "recording to export")
	fs.BoolVar(&o.list, "list", false, "list stored recordings and exit")
	fs.StringVar(&o.configPath, "config", "", "recording configuration JSON supplying the processing options")
	fs.StringVar(&o.gravity, "gravity", "", "override gravity removal: off, world or raw")
	fs.Float64Var(&o.query.TrimStart, "trim-start", 0, "fraction of samples dropped from the front")
	fs.Float64Var(&o.query.TrimEnd, "trim-end", 0, "fraction of samples dropped from the back")
	fs.BoolVar(&o.query.Normalize, "normalize", false, "scale each table to a width of one")
	fs.StringVar(&o.query.Distance, "units", "m", "unit for offset tables (m, cm, mm, in)")
	fs.StringVar(&o.query.Angle, "angle-units", "rad", "unit for rotation tables (rad, deg)")
	fs.StringVar(&o.pngDir, "png", "", "directory to write curve PNGs into")
	fs.BoolVar(&o.save, "save", false, "store the exported tables against the recording")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if !o.list && o.id == "" {
		return o, errors.New("-id is required unless -list is given")
	}
	if !units.IsValidDistance(o.query.Distance) {
		return o, fmt.Errorf("invalid -units %q, want one of %v", o.query.Distance, units.ValidDistanceUnits)
	}
	if !units.IsValidAngle(o.query.Angle) {
		return o, fmt.Errorf("invalid -angle-units %q, want one of %v", o.query.Angle, units.ValidAngleUnits)
	}
	return o, nil
}

func transformOptions(o options) (transform.Options, error) {
	cfg := config.DefaultRecordingConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadRecordingConfig(o.configPath); err != nil {
			return transform.Options{}, err
		}
	}
	opts := cfg.TransformOptions()
	if o.gravity != "" {
		mode, err := transform.ParseGravityMode(o.gravity)
		if err != nil {
			return opts, err
		}
		opts.Gravity = mode
	}
	return opts, nil
}

func run(ctx context.Context, o options, out io.Writer) error {
	if _, err := os.Stat(o.dbPath); err != nil {
		return fmt.Errorf("DB path %s not accessible: %w", o.dbPath, err)
	}
	store, err := db.NewDB(o.dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if o.list {
		list, err := store.ListRecordings(ctx, 0)
		if err != nil {
			return err
		}
		return enc.Encode(list)
	}

	opts, err := transformOptions(o)
	if err != nil {
		return err
	}
	rec, err := store.LoadRecording(ctx, o.id)
	if err != nil {
		return err
	}
	curves, err := api.ProcessRecording(rec, opts, o.query)
	if err != nil {
		return err
	}
	tables := api.Tables(curves)

	if o.pngDir != "" {
		if err := security.ValidateOutputDir(o.pngDir); err != nil {
			return err
		}
		cp, err := plotting.NewCurvePlotter(o.pngDir)
		if err != nil {
			return err
		}
		files, err := cp.Save(o.id, curves)
		if err != nil {
			return err
		}
		for _, f := range files {
			log.Printf("wrote %s", f)
		}
	}
	if o.save {
		for _, t := range tables {
			if len(t.Data) < 2 {
				continue
			}
			if _, err := store.SaveLookupTable(ctx, o.id, t); err != nil {
				return err
			}
		}
	}
	return enc.Encode(tables)
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("%v", err)
	}
	if err := run(context.Background(), o, os.Stdout); err != nil {
		log.Fatalf("export failed: %v", err)
	}
}
