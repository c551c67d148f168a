package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/geniass/pricewatch/pkg/store"
)

var now = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func testProducts() []store.Product {
	title := "Kindle, Paperwhite"
	checked := time.Date(2024, 3, 9, 13, 0, 0, 0, time.UTC)
	return []store.Product{
		{ID: 1, URL: "https://shop.test/dp/1", Title: &title, LastPrice: decimal.NewNullDecimal(decimal.RequireFromString("139.99")), LastChecked: checked},
		{ID: 2, URL: "https://shop.test/dp/2", LastChecked: checked},
		{ID: 3, URL: "https://shop.test/dp/3", LastPrice: decimal.NewNullDecimal(decimal.Zero)},
	}
}

func TestWriteCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")

	path, err := WriteCSV(dir, testProducts(), now)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "prices_2024-03-09_14-05-07.csv" {
		t.Errorf("wrong file name %q", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	expected := [][]string{
		{"id", "title", "url", "current_price", "last_checked"},
		{"1", "Kindle, Paperwhite", "https://shop.test/dp/1", "139.99", "2024-03-09T13:00:00Z"},
		{"2", "", "https://shop.test/dp/2", "", "2024-03-09T13:00:00Z"},
		{"3", "", "https://shop.test/dp/3", "0", ""},
	}
	if !reflect.DeepEqual(records, expected) {
		t.Errorf("wrong csv:\n got %q\nwant %q", records, expected)
	}
}

func TestWriteCSVNoRows(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	if _, err := WriteCSV(dir, nil, now); !errors.Is(err, ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("no directory should be created for an empty export")
	}
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderHTML(&buf, NewContext(testProducts(), now)); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"<table>", "Kindle, Paperwhite", "139.99", "https://shop.test/dp/2", "2024-03-09T14:05:07 UTC"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered page is missing %q", want)
		}
	}
}

func TestWriteHTML(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteHTML(dir, testProducts(), now)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "prices_2024-03-09_14-05-07.html" {
		t.Errorf("wrong file name %q", path)
	}
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		t.Errorf("html report not written: %v", err)
	}
}

func TestRenderToFileRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	failed := errors.New("disk full")

	err := renderToFile(dir, "prices.csv", func(w io.Writer) error {
		if _, err := io.WriteString(w, "id,title"); err != nil {
			return err
		}
		return failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("expected the write error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "prices.csv")); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}

	if err := renderToFile(dir, "ok.csv", func(w io.Writer) error {
		_, err := io.WriteString(w, "id\n")
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if b, err := os.ReadFile(filepath.Join(dir, "ok.csv")); err != nil || string(b) != "id\n" {
		t.Errorf("wrong file content %q, %v", b, err)
	}
}

func TestWriteCSVPriceReadsBack(t *testing.T) {
	p := testProducts()[:1]
	p[0].LastPrice = decimal.NewNullDecimal(decimal.RequireFromString("12.345"))

	path, err := WriteCSV(t.TempDir(), p, now)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), ",12.3450,") {
		t.Errorf("three decimal price should be written unambiguously:\n%s", b)
	}
}
