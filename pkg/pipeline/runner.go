package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/geniass/pricewatch/pkg/extract"
	"github.com/geniass/pricewatch/pkg/normalize"
	"github.com/geniass/pricewatch/pkg/scraper"
	"github.com/geniass/pricewatch/pkg/store"
)

// Fetcher returns the body of a product page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Store is the part of the price store a run writes to.
type Store interface {
	UpsertProduct(ctx context.Context, url string, title *string, price decimal.NullDecimal) (int64, error)
	RecordObservation(ctx context.Context, productID int64, price decimal.NullDecimal) error
}

// Outcome of processing a single address.
type Outcome int

const (
	Stored Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Summary counts what a run did with its addresses.
type Summary struct {
	RunID   string
	URLs    int
	Stored  int
	Skipped int
	Failed  int

	// Filled in by the command layer when the run also exports.
	ExportedRows int
	ExportPath   string
}

// Runner processes addresses one at a time: fetch, extract, store.
type Runner struct {
	fetcher   Fetcher
	extractor *extract.Extractor
	store     Store
	log       *slog.Logger

	newRunID func() string
}

func NewRunner(f Fetcher, e *extract.Extractor, s Store, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		fetcher:   f,
		extractor: e,
		store:     s,
		log:       log,
		newRunID:  func() string { return uuid.NewString() },
	}
}

// Run processes every address in order. Failures of one address are logged
// and counted and never stop the run; only ctx cancellation does.
func (r *Runner) Run(ctx context.Context, urls []string) (Summary, error) {
	sum := Summary{RunID: r.newRunID(), URLs: len(urls)}
	log := r.log.With("run_id", sum.RunID)

	if len(urls) == 0 {
		log.Warn("no product urls to process")
		return sum, nil
	}
	log.Info("starting run", "urls", len(urls))

	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			log.Warn("run cancelled", "processed", i, "err", err)
			return sum, err
		}

		switch r.process(ctx, log, u) {
		case Stored:
			sum.Stored++
		case Skipped:
			sum.Skipped++
		case Failed:
			sum.Failed++
		}
	}

	if sum.Stored == 0 {
		log.Warn("run finished without usable results", "skipped", sum.Skipped, "failed", sum.Failed)
		return sum, nil
	}
	log.Info("run finished", "stored", sum.Stored, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

// Process handles a single address outside of a run.
func (r *Runner) Process(ctx context.Context, url string) Outcome {
	return r.process(ctx, r.log, url)
}

func (r *Runner) process(ctx context.Context, log *slog.Logger, url string) Outcome {
	log = log.With("url", url)
	log.Info("processing")

	body, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		var fetchErr *scraper.FetchError
		if errors.As(err, &fetchErr) {
			log.Error("failed to fetch page", "status", fetchErr.StatusCode, "attempts", fetchErr.Attempts, "err", err)
		} else {
			log.Error("failed to fetch page", "err", err)
		}
		return Failed
	}

	rec := r.extractor.Extract(body)
	if rec.Empty() {
		log.Warn("no title or price found, skipping")
		return Skipped
	}
	if !rec.Price.Valid {
		log.Warn("no price found, recording as unavailable")
	}

	id, err := r.store.UpsertProduct(ctx, url, rec.Title, rec.Price)
	if err != nil {
		log.Error("failed to save product", "err", err)
		return Failed
	}
	if err := r.store.RecordObservation(ctx, id, rec.Price); err != nil {
		log.Error("failed to record price", "product_id", id, "err", err)
		return Failed
	}

	log.Info("stored", "product_id", id, "title", deref(rec.Title), "price", priceAttr(rec.Price))
	return Stored
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func priceAttr(p decimal.NullDecimal) string {
	if !p.Valid {
		return "n/a"
	}
	return normalize.Format(p.Decimal)
}

var (
	_ Fetcher = (*scraper.Scraper)(nil)
	_ Store   = (*store.Store)(nil)
)
