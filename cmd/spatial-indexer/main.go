// Command spatial-indexer builds a geohash index from a JSON file of named
// points.
//
// Usage:
//
//	spatial-indexer -i places.json -o ./index
//
// The input is an array of {"Name": "...", "pos": [longitude, latitude]}.
// The index directory is replaced on every successful run and left untouched
// when the build fails.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/thesteve0/spatialindexer"
	"github.com/thesteve0/spatialindexer/internal/logger"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string        `short:"c" long:"config"  env:"CONFIG_FILE" description:"Path to YAML build configuration"`
	Input      string        `short:"i" long:"input"   env:"INPUT_FILE"  description:"JSON file of entities to index" required:"true"`
	Index      string        `short:"o" long:"index"   env:"INDEX_DIR"   description:"Index directory to write" required:"true"`
	Levels     int           `short:"l" long:"levels"  env:"LEVELS"      description:"Geohash levels per point (1-12), overrides config"`
	Strict     bool          `short:"s" long:"strict"                    description:"Abort on the first record the index rejects"`
	Verify     bool          `long:"verify"                              description:"Verify the index after building"`
	Timeout    time.Duration `long:"timeout"  env:"BUILD_TIMEOUT"        description:"Overall build timeout" default:"5m"`
}

func main() {
	_ = godotenv.Load(".env")

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	l := opts.Logger.Setup()

	buildOpts := []spatialindexer.Option{spatialindexer.WithLogger(l)}
	if opts.ConfigFile != "" {
		cfg, err := spatialindexer.LoadConfig(opts.ConfigFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
		buildOpts = append(buildOpts, spatialindexer.WithConfig(cfg))
	}
	if opts.Levels != 0 {
		buildOpts = append(buildOpts, spatialindexer.WithLevels(opts.Levels))
	}
	if opts.Strict {
		buildOpts = append(buildOpts, spatialindexer.WithMode(spatialindexer.ModeStrict))
	}

	candidates, err := spatialindexer.ReadCandidatesFile(opts.Input)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read input")
	}
	log.Info().Str("input", opts.Input).Int("entities", len(candidates)).Msg("Starting index build")

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	report, err := spatialindexer.Build(ctx, opts.Index, candidates, buildOpts...)
	cancel()
	if err != nil {
		ev := log.Error().Err(err).Str("index", opts.Index)
		if report != nil {
			ev = ev.Int("added", report.Added).Int("skipped", len(report.Skipped))
		}
		switch {
		case errors.Is(err, spatialindexer.ErrOpenFailure):
			ev.Msg("Failed to open index for writing")
		case errors.Is(err, spatialindexer.ErrAddFailure):
			ev.Msg("Index rejected a record, build aborted")
		default:
			ev.Msg("Index build failed")
		}
		os.Exit(1)
	}

	if opts.Verify {
		meta, err := spatialindexer.VerifyIndex(report.Dest)
		if err != nil {
			log.Fatal().Err(err).Str("index", report.Dest).Msg("Index verification failed")
		}
		log.Info().Int("records", meta.Records).Int("levels", meta.Levels).Msg("Index verified")
	}

	log.Info().
		Str("index", report.Dest).
		Str("build_id", report.BuildID).
		Int("added", report.Added).
		Int("skipped", len(report.Skipped)).
		Dur("took", report.Duration).
		Msg("Index written successfully")
}
