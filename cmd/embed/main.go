package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/raaihank/quackformers/internal/app"
	"github.com/raaihank/quackformers/internal/config"
	"github.com/raaihank/quackformers/internal/udf"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		function   = flag.String("model", udf.FuncEmbed, "Embedding function for stdin lines: embed, embed_jina or embedrock")
		query      = flag.String("sql", "", "Run a SQL query with the embedding functions registered, e.g. \"SELECT embed('hello world')\"")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Logging.Level == "info" {
		// Keep stdout for results.
		cfg.Logging.Level = "warn"
	}

	log, err := app.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()
	services, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *query != "" {
		if err := runSQL(ctx, services.Catalog, *query, os.Stdout); err != nil {
			log.Fatal("Query failed", zap.Error(err))
		}
		return
	}

	if err := embedLines(ctx, services, *function, cfg.Models.BatchSize, os.Stdin, os.Stdout); err != nil {
		log.Fatal("Embedding failed", zap.Error(err))
	}
}

// embedLines writes one JSON array per input line, batching lines together.
func embedLines(ctx context.Context, services *app.App, function string, batchSize int, in io.Reader, out io.Writer) error {
	svc, err := services.Service(function)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(out)
	defer w.Flush()
	enc := json.NewEncoder(w)

	flush := func(lines []string) error {
		vecs, err := svc.EmbedTexts(ctx, lines)
		if err != nil {
			return err
		}
		for _, v := range vecs {
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
		return nil
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	batch := make([]string, 0, batchSize)
	for scanner.Scan() {
		batch = append(batch, scanner.Text())
		if len(batch) == batchSize {
			if err := flush(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return flush(batch)
	}
	return nil
}

// runSQL executes query on an in-memory database and prints rows tab-separated.
func runSQL(ctx context.Context, catalog *udf.Catalog, query string, out io.Writer) error {
	if err := udf.RegisterSQLite(catalog); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, strings.Join(cols, "\t"))

	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		fields := make([]string, len(values))
		for i, v := range values {
			if v.Valid {
				fields[i] = v.String
			} else {
				fields[i] = "NULL"
			}
		}
		fmt.Fprintln(out, strings.Join(fields, "\t"))
	}
	return rows.Err()
}
