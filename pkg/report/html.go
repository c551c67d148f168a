package report

import (
	"embed"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/geniass/pricewatch/pkg/store"
)

//go:embed templates
var templatesFs embed.FS

type Context struct {
	Title     string
	Generated time.Time
	Rows      []ProductRow
}

func NewContext(products []store.Product, now time.Time) Context {
	c := Context{Title: "Tracked prices", Generated: now}
	for _, p := range products {
		c.Rows = append(c.Rows, Row(p))
	}
	return c
}

func (c Context) FormattedGenerated() string {
	return c.Generated.UTC().Format("2006-01-02T15:04:05 MST")
}

func RenderHTML(w io.Writer, c Context) error {
	t, err := template.ParseFS(templatesFs, "templates/prices.html.tpl")
	if err != nil {
		return err
	}
	t, err = t.ParseFS(templatesFs, "templates/common/*")
	if err != nil {
		return err
	}

	return t.Execute(w, c)
}

// WriteHTML renders the price table next to the CSV export and returns the
// file path.
func WriteHTML(dir string, products []store.Product, now time.Time) (string, error) {
	if len(products) == 0 {
		return "", ErrNoRows
	}
	if err := os.MkdirAll(dir, os.ModeDir|0755); err != nil {
		return "", err
	}

	filename := Filename(now) + ".html"
	err := renderToFile(dir, filename, func(w io.Writer) error {
		return RenderHTML(w, NewContext(products, now))
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}

// renderToFile writes dir/filename through renderFunc. A file that could not
// be written completely is removed.
func renderToFile(dir string, filename string, renderFunc func(w io.Writer) error) (err error) {
	path := filepath.Join(dir, filename)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	return renderFunc(f)
}
