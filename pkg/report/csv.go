package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/geniass/pricewatch/pkg/normalize"
	"github.com/geniass/pricewatch/pkg/store"
)

// ErrNoRows is returned when there is nothing to export.
var ErrNoRows = errors.New("no price data to export")

// Header is the first line of every CSV export.
var Header = []string{"id", "title", "url", "current_price", "last_checked"}

const fileTimeLayout = "2006-01-02_15-04-05"

// Filename is the export name for a run at now, without extension.
func Filename(now time.Time) string {
	return "prices_" + now.Format(fileTimeLayout)
}

// WriteCSV writes one row per product to a new timestamped file in dir,
// creating dir if needed, and returns the file path. An absent title is an
// empty string and an absent price an empty cell, so a zero price stays
// distinguishable.
func WriteCSV(dir string, products []store.Product, now time.Time) (string, error) {
	if len(products) == 0 {
		return "", ErrNoRows
	}
	if err := os.MkdirAll(dir, os.ModeDir|0755); err != nil {
		return "", err
	}

	filename := Filename(now) + ".csv"
	err := renderToFile(dir, filename, func(f io.Writer) error {
		w := csv.NewWriter(f)
		if err := w.Write(Header); err != nil {
			return err
		}
		for _, p := range products {
			if err := w.Write(row(p)); err != nil {
				return fmt.Errorf("write product %d: %w", p.ID, err)
			}
		}
		w.Flush()
		return w.Error()
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}

func row(p store.Product) []string {
	r := Row(p)
	return []string{strconv.FormatInt(r.ID, 10), r.Title, r.URL, r.Price, r.LastChecked}
}

// ProductRow is a product with every column already formatted.
type ProductRow struct {
	ID          int64
	Title       string
	URL         string
	Price       string
	LastChecked string
}

func Row(p store.Product) ProductRow {
	r := ProductRow{ID: p.ID, URL: p.URL}
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.LastPrice.Valid {
		r.Price = normalize.Format(p.LastPrice.Decimal)
	}
	if !p.LastChecked.IsZero() {
		r.LastChecked = p.LastChecked.UTC().Format(time.RFC3339)
	}
	return r
}
