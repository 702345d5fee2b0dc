package model

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ProductID is the stable catalog key of a product. Numeric ids in the
// catalog file are kept as their decimal text.
type ProductID string

func (id ProductID) String() string {
	return string(id)
}

// UnmarshalYAML accepts both `id: 1` and `id: "vortex-pst"`.
func (id *ProductID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("product id must be a scalar, got %s", node.Tag)
	}
	*id = ProductID(node.Value)
	return nil
}

// RetailerURL is one retailer page of a product.
type RetailerURL struct {
	Retailer string
	URL      string
}

// RetailerURLs keeps the retailer -> url mapping in declaration order, so a
// product is always scraped in the order its catalog entry lists retailers.
type RetailerURLs []RetailerURL

// UnmarshalYAML decodes a mapping node while preserving key order.
func (r *RetailerURLs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("urls must be a mapping of retailer to url")
	}
	out := make(RetailerURLs, 0, len(node.Content)/2)
	seen := make(map[string]struct{}, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return fmt.Errorf("urls entry at line %d must be retailer: url", k.Line)
		}
		if _, dup := seen[k.Value]; dup {
			return fmt.Errorf("duplicate retailer %q at line %d", k.Value, k.Line)
		}
		seen[k.Value] = struct{}{}
		out = append(out, RetailerURL{Retailer: k.Value, URL: v.Value})
	}
	*r = out
	return nil
}

// MarshalJSON writes the mapping as a JSON object in declaration order.
func (r RetailerURLs) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, ru := range r {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(ru.Retailer)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(ru.URL)
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}

// Lookup returns the url registered for retailer.
func (r RetailerURLs) Lookup(retailer string) (string, bool) {
	for _, ru := range r {
		if ru.Retailer == retailer {
			return ru.URL, true
		}
	}
	return "", false
}

// Product is a static catalog entry. It is read-only to the pipeline.
type Product struct {
	ID    ProductID    `json:"id" yaml:"id"`
	Name  string       `json:"name" yaml:"name"`
	Brand string       `json:"brand" yaml:"brand"`
	URLs  RetailerURLs `json:"urls" yaml:"urls"`
}
