package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"

	"github.com/geniass/pricewatch/pkg/normalize"
)

// Record holds the fields found on one product page. A nil field means the
// element was not on the page.
type Record struct {
	Title        *string
	Price        decimal.NullDecimal
	Category     *string
	Availability *string
}

// Empty reports whether nothing worth storing was found.
func (r Record) Empty() bool {
	return r.Title == nil && !r.Price.Valid
}

type finder interface {
	find(root *html.Node) (string, bool)
}

type cssFinder struct {
	m goquery.Matcher
}

func (f cssFinder) find(root *html.Node) (string, bool) {
	sel := goquery.NewDocumentFromNode(root).FindMatcher(f.m).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Text(), true
}

type xpathFinder struct {
	expr *xpath.Expr
}

func (f xpathFinder) find(root *html.Node) (string, bool) {
	n := htmlquery.QuerySelector(root, f.expr)
	if n == nil {
		return "", false
	}
	return htmlquery.InnerText(n), true
}

// Extractor pulls product fields out of a page using a compiled Profile.
// It is safe for concurrent use.
type Extractor struct {
	profile      Profile
	title        finder
	price        finder
	category     finder
	availability finder
}

// New compiles every selector of p. An invalid selector is a configuration
// error and is reported here, never during extraction.
func New(p Profile) (*Extractor, error) {
	p = p.withDefaults()
	e := &Extractor{profile: p}

	for _, s := range []struct {
		field string
		sel   Selector
		dst   *finder
	}{
		{"title", p.Title, &e.title},
		{"price", p.Price, &e.price},
		{"category", p.Category, &e.category},
		{"availability", p.Availability, &e.availability},
	} {
		f, err := compile(s.sel)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %s selector: %w", p.Name, s.field, err)
		}
		*s.dst = f
	}
	return e, nil
}

func compile(s Selector) (finder, error) {
	switch strings.ToLower(s.Kind) {
	case "", KindCSS:
		m, err := cascadia.Compile(s.Expr)
		if err != nil {
			return nil, fmt.Errorf("compile css %q: %w", s.Expr, err)
		}
		return cssFinder{m: m}, nil
	case KindXPath:
		expr, err := xpath.Compile(s.Expr)
		if err != nil {
			return nil, fmt.Errorf("compile xpath %q: %w", s.Expr, err)
		}
		return xpathFinder{expr: expr}, nil
	default:
		return nil, fmt.Errorf("unknown selector kind %q", s.Kind)
	}
}

// Profile returns the selector table the extractor was built from.
func (e *Extractor) Profile() Profile {
	return e.profile
}

// Extract parses doc and returns whatever fields it can find. Missing
// elements leave the matching field nil.
func (e *Extractor) Extract(doc string) Record {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return Record{}
	}

	var r Record
	if s, ok := e.title.find(root); ok {
		r.Title = nonEmpty(s)
	}
	if s, ok := e.price.find(root); ok {
		r.Price = normalize.Price(s)
	}
	if s, ok := e.category.find(root); ok {
		r.Category = e.cleanCategory(s)
	}
	if s, ok := e.availability.find(root); ok {
		r.Availability = nonEmpty(s)
	}
	return r
}

func (e *Extractor) cleanCategory(breadcrumb string) *string {
	var items []string
	for _, item := range strings.Split(breadcrumb, e.profile.CategoryDelimiter) {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return nil
	}
	joined := strings.Join(items, e.profile.CategorySeparator)
	return &joined
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
