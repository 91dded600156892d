// Command inspect-index looks up records in an index written by
// spatial-indexer.
//
// Usage:
//
//	inspect-index --index ./index --cell dr72h
//	inspect-index --index ./index --name "Central Park"
//	inspect-index --index ./index --term centrl --fuzzy 2
//	inspect-index --index ./index --verify
package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/thesteve0/spatialindexer"
	"github.com/thesteve0/spatialindexer/internal/logger"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	Index  string `short:"x" long:"index" env:"INDEX_DIR" description:"Index directory" required:"true"`
	Cell   string `long:"cell"   description:"List records inside a geohash cell"`
	Name   string `long:"name"   description:"List records with this exact name, ignoring case"`
	Term   string `long:"term"   description:"List records whose name contains this term"`
	Fuzzy  int    `long:"fuzzy"  description:"Edit distance allowed for --term (max 3)" default:"0"`
	ID     uint64 `long:"id"     description:"Show a single record"`
	Verify bool   `long:"verify" description:"Check index consistency"`
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

	opts.Logger.Setup()

	if err := run(opts, os.Stdout); err != nil {
		log.Fatal().Err(err).Str("index", opts.Index).Msg("Inspection failed")
	}
}

// run performs the requested lookup and closes the index before returning.
func run(opts Options, out io.Writer) error {
	if opts.Verify {
		meta, err := spatialindexer.VerifyIndex(opts.Index)
		if err != nil {
			return fmt.Errorf("verifying index: %w", err)
		}
		log.Info().Int("records", meta.Records).Str("build_id", meta.BuildID).Msg("Index verified")
	}

	r, err := spatialindexer.OpenReader(opts.Index)
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		docs []spatialindexer.Document
		what string
	)
	switch {
	case opts.ID != 0:
		var d spatialindexer.Document
		d, err = r.Document(opts.ID)
		docs, what = []spatialindexer.Document{d}, fmt.Sprintf("id %d", opts.ID)
	case opts.Cell != "":
		docs, err = r.Cell(opts.Cell)
		what = "cell " + opts.Cell
	case opts.Name != "":
		docs, err = r.Name(opts.Name)
		what = fmt.Sprintf("name %q", opts.Name)
	case opts.Term != "":
		docs, err = r.Term(opts.Term, opts.Fuzzy)
		what = fmt.Sprintf("term %q", opts.Term)
	default:
		return printSummary(out, r)
	}
	if err != nil {
		return fmt.Errorf("looking up %s: %w", what, err)
	}

	fmt.Fprintf(out, "%d records for %s\n\n", len(docs), what)
	printDocuments(out, docs)
	return nil
}

func printSummary(out io.Writer, r *spatialindexer.Reader) error {
	meta := r.Meta()
	count, err := r.Count()
	if err != nil {
		return fmt.Errorf("counting records: %w", err)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Index\t%s\n", r.Path())
	fmt.Fprintf(w, "Build\t%s\n", meta.BuildID)
	fmt.Fprintf(w, "Built\t%s\n", meta.BuiltAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Levels\t%d (finest cell %.2fm x %.2fm)\n", meta.Levels,
		spatialindexer.CellWidthMeters(meta.Levels), spatialindexer.CellHeightMeters(meta.Levels))
	fmt.Fprintf(w, "Records\t%d\n", count)
	return w.Flush()
}

func printDocuments(out io.Writer, docs []spatialindexer.Document) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLONGITUDE\tLATITUDE")
	for _, d := range docs {
		p, err := d.Point()
		if err != nil {
			fmt.Fprintf(w, "%d\t%s\t%s\t\n", d.ID, d.Name, d.Coords)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%.6f\t%.6f\n", d.ID, d.Name, p.Longitude, p.Latitude)
	}
	w.Flush()
}
