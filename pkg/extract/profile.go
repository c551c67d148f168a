package extract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Selector kinds understood by the extractor.
const (
	KindCSS   = "css"
	KindXPath = "xpath"
)

// Selector locates one element in a product page. Kind defaults to css.
type Selector struct {
	Kind string `yaml:"kind"`
	Expr string `yaml:"expr"`
}

// Profile is the selector table for one site. Supporting another site is a
// matter of writing a new profile, not new code.
type Profile struct {
	Name         string   `yaml:"name"`
	Title        Selector `yaml:"title"`
	Price        Selector `yaml:"price"`
	Category     Selector `yaml:"category"`
	Availability Selector `yaml:"availability"`

	// CategoryDelimiter splits the breadcrumb text, CategorySeparator joins
	// the cleaned segments back together.
	CategoryDelimiter string `yaml:"category_delimiter"`
	CategorySeparator string `yaml:"category_separator"`
}

// DefaultProfile returns the selectors for amazon product pages.
func DefaultProfile() Profile {
	return Profile{
		Name:              "amazon",
		Title:             Selector{Kind: KindCSS, Expr: "#productTitle"},
		Price:             Selector{Kind: KindCSS, Expr: "#corePrice_feature_div > div > div > span.a-price > span.a-offscreen"},
		Category:          Selector{Kind: KindCSS, Expr: "#wayfinding-breadcrumbs_feature_div > ul"},
		Availability:      Selector{Kind: KindCSS, Expr: "#availability > span"},
		CategoryDelimiter: "›",
		CategorySeparator: " > ",
	}
}

// LoadProfile reads a YAML selector table. Fields left out of the file keep
// the values of DefaultProfile.
func LoadProfile(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("open site profile: %w", err)
	}
	defer f.Close()

	var p Profile
	if err := yaml.NewDecoder(f).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode site profile %q: %w", path, err)
	}
	return p.withDefaults(), nil
}

func (p Profile) withDefaults() Profile {
	def := DefaultProfile()
	if p.Name == "" {
		p.Name = def.Name
	}
	for _, f := range []struct{ sel, fallback *Selector }{
		{&p.Title, &def.Title},
		{&p.Price, &def.Price},
		{&p.Category, &def.Category},
		{&p.Availability, &def.Availability},
	} {
		if f.sel.Expr == "" {
			*f.sel = *f.fallback
		}
	}
	if p.CategoryDelimiter == "" {
		p.CategoryDelimiter = def.CategoryDelimiter
	}
	if p.CategorySeparator == "" {
		p.CategorySeparator = def.CategorySeparator
	}
	return p
}
