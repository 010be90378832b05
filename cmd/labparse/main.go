// Command labparse imports Spanish-language lab reports into a local
// SQLite database and queries the resulting analyte series.
//
// Usage:
//
//	go run -tags sqlite_fts5 ./cmd/labparse import --patient ana ./reports/*.pdf
//	go run -tags sqlite_fts5 ./cmd/labparse docs
//	go run -tags sqlite_fts5 ./cmd/labparse series
//	go run -tags sqlite_fts5 ./cmd/labparse points --key "CREATININA|SUERO|MG/DL|QUIMICA CLINICA"
//	go run -tags sqlite_fts5 ./cmd/labparse search colesterol
//	go run -tags sqlite_fts5 ./cmd/labparse delete --id 3
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	labparse "github.com/avelarde/labparse"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML or JSON config file")
		dbPath     = flag.String("db", "", "Path to SQLite database (overrides config)")
		verbose    = flag.Bool("v", false, "Enable debug logging")
	)
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg := labparse.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = labparse.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	ctx := context.Background()
	eng, err := labparse.New(ctx, cfg)
	if err != nil {
		log.Fatalf("starting engine: %v", err)
	}
	defer eng.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "import":
		cmdImport(ctx, eng, args)
	case "docs":
		cmdDocs(ctx, eng)
	case "series":
		cmdSeries(ctx, eng)
	case "points":
		cmdPoints(ctx, eng, args)
	case "search":
		cmdSearch(ctx, eng, args)
	case "delete":
		cmdDelete(ctx, eng, args)
	case "stats":
		cmdStats(ctx, eng)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: labparse [flags] <command> [args]

Commands:
  import [--patient ID] [--force] [--method lines|columns] <file>...
  docs                      list imported documents
  series                    list analyte series
  points --key <series-key> print one series as a timeline
  search <query>            find series by analyte name
  delete --id <doc-id>      remove a document and its results
  stats                     database row counts

Flags:`)
	flag.PrintDefaults()
}

func cmdImport(ctx context.Context, eng labparse.Engine, args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	patient := fs.String("patient", "", "Patient identifier to tag documents with")
	force := fs.Bool("force", false, "Re-import even if content is unchanged")
	method := fs.String("method", "", "Force parse strategy: lines or columns")
	fs.Parse(args)

	if fs.NArg() == 0 {
		log.Fatal("import: at least one file argument is required")
	}

	failures := 0
	for _, path := range fs.Args() {
		var opts []labparse.ImportOption
		if *patient != "" {
			opts = append(opts, labparse.WithPatientID(*patient))
		}
		if *force {
			opts = append(opts, labparse.WithForceReimport())
		}
		if *method != "" {
			opts = append(opts, labparse.WithParseMethod(*method))
		}

		res, err := eng.ImportFile(ctx, path, opts...)
		if err != nil {
			slog.Error("import failed", "file", path, "error", err)
			failures++
			continue
		}
		if res.Skipped {
			fmt.Printf("%s: unchanged (doc %d)\n", path, res.DocumentID)
			continue
		}
		fmt.Printf("%s: doc %d, %d records (%d new), method %s", path, res.DocumentID,
			res.RecordsTotal, res.RecordsInserted, res.ParseMethod)
		if !res.TakenAt.IsZero() {
			fmt.Printf(", drawn %s", res.TakenAt.Format("2006-01-02"))
		}
		fmt.Println()
	}
	if failures > 0 {
		os.Exit(1)
	}
}

func cmdDocs(ctx context.Context, eng labparse.Engine) {
	docs, err := eng.ListDocuments(ctx)
	if err != nil {
		log.Fatalf("listing documents: %v", err)
	}
	for _, d := range docs {
		date := ""
		if !d.TakenAt.IsZero() {
			date = d.TakenAt.Format("2006-01-02")
		}
		fmt.Printf("%4d  %-10s %-30s %-14s %s\n", d.ID, d.Status, d.Filename, d.ParseMethod, date)
	}
}

func cmdSeries(ctx context.Context, eng labparse.Engine) {
	series, err := eng.ListSeries(ctx)
	if err != nil {
		log.Fatalf("listing series: %v", err)
	}
	for _, s := range series {
		fmt.Printf("%-40s %-10s %-12s %s\n", s.AnalyteName, s.Specimen, s.Unit, s.SeriesKey)
	}
}

func cmdPoints(ctx context.Context, eng labparse.Engine, args []string) {
	fs := flag.NewFlagSet("points", flag.ExitOnError)
	key := fs.String("key", "", "Series key (see the series command)")
	asJSON := fs.Bool("json", false, "Emit JSON instead of a table")
	fs.Parse(args)

	if *key == "" {
		log.Fatal("points: --key is required")
	}
	points, err := eng.SeriesPoints(ctx, *key)
	if err != nil {
		log.Fatalf("reading series: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(points)
		return
	}
	for _, p := range points {
		date := "          "
		if !p.TakenAt.IsZero() {
			date = p.TakenAt.Format("2006-01-02")
		}
		value := p.ValueText
		if p.Value != nil {
			value = fmt.Sprintf("%g", *p.Value)
		}
		ref := ""
		if p.RefMin != nil || p.RefMax != nil {
			ref = fmt.Sprintf("[%s - %s]", floatOrDash(p.RefMin), floatOrDash(p.RefMax))
		}
		fmt.Printf("%s  %10s %-12s %s\n", date, value, p.Unit, ref)
	}
}

func cmdSearch(ctx context.Context, eng labparse.Engine, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("k", 10, "Maximum matches")
	fs.Parse(args)

	query := strings.Join(fs.Args(), " ")
	if query == "" {
		log.Fatal("search: a query argument is required")
	}
	matches, err := eng.SearchSeries(ctx, query, *limit)
	if err != nil {
		log.Fatalf("searching series: %v", err)
	}
	for _, m := range matches {
		fmt.Printf("%6.3f  %-40s %s\n", m.Score, m.Series.AnalyteName, m.Series.SeriesKey)
	}
}

func cmdDelete(ctx context.Context, eng labparse.Engine, args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.Int64("id", 0, "Document ID to delete")
	fs.Parse(args)

	if *id == 0 {
		log.Fatal("delete: --id is required")
	}
	if err := eng.DeleteDocument(ctx, *id); err != nil {
		log.Fatalf("deleting document: %v", err)
	}
	fmt.Printf("deleted document %d\n", *id)
}

func cmdStats(ctx context.Context, eng labparse.Engine) {
	st, err := eng.Store().Stats(ctx)
	if err != nil {
		log.Fatalf("collecting stats: %v", err)
	}
	fmt.Printf("documents:  %d\nresults:    %d\nseries:     %d\nembeddings: %d\n",
		st.Documents, st.Results, st.Series, st.Embeddings)
}

func floatOrDash(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *f)
}
