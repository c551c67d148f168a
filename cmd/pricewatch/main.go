package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cli "github.com/jawher/mow.cli"
	"github.com/joho/godotenv"

	"github.com/geniass/pricewatch/pkg/config"
	"github.com/geniass/pricewatch/pkg/extract"
	"github.com/geniass/pricewatch/pkg/pipeline"
	"github.com/geniass/pricewatch/pkg/report"
	"github.com/geniass/pricewatch/pkg/scraper"
	"github.com/geniass/pricewatch/pkg/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("WARNING: could not read .env: %v\n", err)
	}

	cfg, err := config.FromEnv(os.LookupEnv)
	if err != nil {
		log.Fatal(err)
	}

	app := cli.App("pricewatch", "Track product prices and export them to CSV")

	dbArg := app.String(cli.StringOpt{Name: "db", Value: cfg.DatabaseURL, EnvVar: config.KeyDatabaseURL,
		Desc: "storage descriptor: sqlite:///path.db or postgres://..."})
	productsArg := app.String(cli.StringOpt{Name: "products", Value: cfg.ProductsFile, EnvVar: config.KeyProductsFile,
		Desc: "file with one product url per line"})
	reportsArg := app.String(cli.StringOpt{Name: "reports-dir", Value: cfg.ReportsDir, EnvVar: config.KeyReportsDir,
		Desc: "directory in which to write exports"})
	profileArg := app.String(cli.StringOpt{Name: "site-profile", Value: cfg.SiteProfile, EnvVar: config.KeySiteProfile,
		Desc: "YAML selector table; the built-in one is used when empty"})
	levelArg := app.String(cli.StringOpt{Name: "log-level", Value: cfg.LogLevel, EnvVar: config.KeyLogLevel,
		Desc: "DEBUG, INFO, WARNING, ERROR or CRITICAL"})

	var (
		logger   *slog.Logger
		closeLog = func() error { return nil }
	)

	app.Before = func() {
		cfg.DatabaseURL = *dbArg
		cfg.ProductsFile = *productsArg
		cfg.ReportsDir = *reportsArg
		cfg.SiteProfile = *profileArg
		cfg.LogLevel = *levelArg
		if err := cfg.Validate(); err != nil {
			log.Print(err)
			cli.Exit(1)
		}

		logger, closeLog, err = newLogger(cfg)
		if err != nil {
			log.Print(err)
			cli.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Command("once", "fetch every product once and store the prices", func(cmd *cli.Cmd) {
		cmd.Action = func() {
			fmt.Println("==> Starting once run")
			sum, err := runCycle(ctx, cfg, logger, false, false)
			printSummary(sum)
			exitOnError(err, closeLog)
		}
	})

	app.Command("daily", "fetch every product, then export the stored prices", func(cmd *cli.Cmd) {
		htmlArg := cmd.BoolOpt("html", false, "also write an HTML report")
		cmd.Action = func() {
			fmt.Println("==> Starting daily run")
			sum, err := runCycle(ctx, cfg, logger, true, *htmlArg)
			printSummary(sum)
			exitOnError(err, closeLog)
		}
	})

	app.Command("export", "export the stored prices to CSV", func(cmd *cli.Cmd) {
		htmlArg := cmd.BoolOpt("html", false, "also write an HTML report")
		cmd.Action = func() {
			fmt.Println("==> Exporting prices")
			err := withStore(ctx, cfg, logger, func(st *store.Store) error {
				_, _, err := export(ctx, cfg, logger, st, *htmlArg)
				return err
			})
			exitOnError(err, closeLog)
		}
	})

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
	closeLog()
}

func newLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	var (
		w       io.Writer = os.Stderr
		closeFn           = func() error { return nil }
	)
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), os.ModeDir|0755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = f.Close
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), closeFn, nil
}

func withStore(ctx context.Context, cfg config.Config, log *slog.Logger, fn func(st *store.Store) error) error {
	st, err := store.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

// cycle is everything a fetch run needs besides the store. It is built
// first so that configuration errors surface before the store is touched.
type cycle struct {
	urls      []string
	extractor *extract.Extractor
	scraper   *scraper.Scraper
}

func prepareCycle(cfg config.Config, log *slog.Logger) (cycle, error) {
	urls, err := pipeline.LoadAddresses(cfg.ProductsFile)
	if err != nil {
		return cycle{}, err
	}

	profile := extract.DefaultProfile()
	if cfg.SiteProfile != "" {
		p, err := extract.LoadProfile(cfg.SiteProfile)
		if err != nil {
			return cycle{}, err
		}
		profile = p
	}
	ex, err := extract.New(profile)
	if err != nil {
		return cycle{}, err
	}

	sc, err := scraper.NewScraper(cfg.ScraperOptions(), log)
	if err != nil {
		return cycle{}, err
	}

	return cycle{urls: urls, extractor: ex, scraper: sc}, nil
}

// runCycle fetches every address and, with exportAfter, exports the store.
func runCycle(ctx context.Context, cfg config.Config, log *slog.Logger, exportAfter, withHTML bool) (pipeline.Summary, error) {
	c, err := prepareCycle(cfg, log)
	if err != nil {
		return pipeline.Summary{}, err
	}

	var sum pipeline.Summary
	err = withStore(ctx, cfg, log, func(st *store.Store) error {
		var err error
		sum, err = pipeline.NewRunner(c.scraper, c.extractor, st, log).Run(ctx, c.urls)
		if err != nil || !exportAfter {
			return err
		}
		sum.ExportedRows, sum.ExportPath, err = export(ctx, cfg, log, st, withHTML)
		return err
	})
	return sum, err
}

// export writes the CSV (and optionally HTML) report. An empty store is a
// warning, not an error.
func export(ctx context.Context, cfg config.Config, log *slog.Logger, st *store.Store, withHTML bool) (int, string, error) {
	products, err := st.ListProducts(ctx)
	if err != nil {
		return 0, "", err
	}

	now := time.Now()
	path, err := report.WriteCSV(cfg.ReportsDir, products, now)
	if errors.Is(err, report.ErrNoRows) {
		log.Warn("No price data found to export")
		return 0, "", nil
	} else if err != nil {
		return 0, "", err
	}
	fmt.Printf("Exported %d rows to: %s\n", len(products), path)

	if withHTML {
		htmlPath, err := report.WriteHTML(cfg.ReportsDir, products, now)
		if err != nil {
			return len(products), path, err
		}
		fmt.Printf("HTML report: %s\n", htmlPath)
	}
	return len(products), path, nil
}

func printSummary(sum pipeline.Summary) {
	if sum.RunID == "" {
		return
	}
	fmt.Printf("Run %s: %d urls, %d stored, %d skipped, %d failed\n",
		sum.RunID, sum.URLs, sum.Stored, sum.Skipped, sum.Failed)
	if sum.ExportPath != "" {
		fmt.Printf("Run %s: exported %d rows\n", sum.RunID, sum.ExportedRows)
	}
}

func exitOnError(err error, closeLog func() error) {
	if err == nil {
		return
	}
	log.Print(err)
	closeLog()
	cli.Exit(1)
}
