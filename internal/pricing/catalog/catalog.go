// Package catalog loads the static product catalog.
package catalog

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pricewatch/server/internal/pricing/model"
)

type file struct {
	Products []model.Product `yaml:"products"`
}

// Load reads and validates the catalog at path.
func Load(path string) ([]model.Product, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a YAML catalog document.
func Parse(b []byte) ([]model.Product, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := Validate(f.Products); err != nil {
		return nil, err
	}
	return f.Products, nil
}

// Validate checks ids are unique and every product has usable retailer urls.
func Validate(products []model.Product) error {
	if len(products) == 0 {
		return fmt.Errorf("catalog has no products")
	}
	seen := make(map[model.ProductID]struct{}, len(products))
	for i, p := range products {
		if strings.TrimSpace(string(p.ID)) == "" {
			return fmt.Errorf("product #%d: empty id", i+1)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("product %s: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("product %s: empty name", p.ID)
		}
		if len(p.URLs) == 0 {
			return fmt.Errorf("product %s: no retailer urls", p.ID)
		}
		for _, ru := range p.URLs {
			if strings.TrimSpace(ru.Retailer) == "" {
				return fmt.Errorf("product %s: empty retailer name", p.ID)
			}
			u, err := url.Parse(ru.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("product %s, retailer %s: invalid url %q", p.ID, ru.Retailer, ru.URL)
			}
		}
	}
	return nil
}
