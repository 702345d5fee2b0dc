package parsers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/model"
	logx "github.com/pricewatch/server/pkg/logger"
)

const fence = "```"

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 64 * 1024 // 64KB
	maxErrSnippet = 200       // limit logged snippet size
)

const (
	fieldPrice    = "price"
	fieldInStock  = "in_stock"
	fieldCurrency = "currency"
)

var errEmpty = errors.New("empty response")

// ParsePriceResponse turns a raw oracle answer into an Extraction.
//
// It never fails in the sense of leaving the caller without a value: on any
// problem it returns model.NoPrice(defaultCurrency) together with a
// validation error describing the rejection. A nil error with an invalid
// price means the oracle answered null.
func ParsePriceResponse(raw string, hint model.Hint, defaultCurrency string) (ext model.Extraction, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "price_parser").Msgf("panic recovered: %v", r)
			ext = model.NoPrice(defaultCurrency)
			err = errx.Validation(fmt.Errorf("price parser panic"))
		}
	}()

	ext, err = parse(raw, defaultCurrency)
	if err != nil {
		logx.Warn().
			Str("component", "price_parser").
			Str("product", hint.ProductName).
			Str("retailer", hint.Retailer).
			Str("response", safeSnippet(raw)).
			Err(err).
			Msg("oracle response rejected")
		return model.NoPrice(defaultCurrency), errx.Validation(err)
	}
	return ext, nil
}

func parse(raw, defaultCurrency string) (model.Extraction, error) {
	if len(raw) > maxContentLen {
		raw = raw[:maxContentLen]
	}
	body := locateRecord(raw)
	if body == "" {
		return model.Extraction{}, errEmpty
	}

	fields, err := decodeRecord(body)
	if err != nil {
		return model.Extraction{}, err
	}

	ext := model.Extraction{Currency: defaultCurrency}
	if ext.Price, err = parsePrice(fields[fieldPrice]); err != nil {
		return model.Extraction{}, err
	}
	if ext.InStock, err = parseInStock(fields[fieldInStock]); err != nil {
		return model.Extraction{}, err
	}
	if cur, err := parseCurrency(fields[fieldCurrency]); err != nil {
		return model.Extraction{}, err
	} else if cur != "" {
		ext.Currency = cur
	}
	return ext, nil
}

// locateRecord strips a code fence the oracle was told not to emit, then,
// if prose still surrounds the record, narrows to the outermost braces.
func locateRecord(s string) string {
	s = strings.TrimSpace(s)
	if start := strings.Index(s, fence); start >= 0 {
		inner := s[start+len(fence):]
		// drop the info string ("json", "JSON", ...) on the opening fence line
		if nl := strings.IndexByte(inner, '\n'); nl >= 0 && !strings.Contains(inner[:nl], "{") {
			inner = inner[nl+1:]
		} else {
			inner = strings.TrimPrefix(strings.TrimPrefix(inner, "json"), "JSON")
		}
		if end := strings.Index(inner, fence); end >= 0 {
			inner = inner[:end]
		}
		s = strings.TrimSpace(inner)
	}
	if s == "" || (s[0] == '{' && s[len(s)-1] == '}') {
		return s
	}
	open := strings.IndexByte(s, '{')
	closing := strings.LastIndexByte(s, '}')
	if open < 0 || closing < open {
		return s
	}
	return s[open : closing+1]
}

// decodeRecord parses exactly one JSON object holding only the known fields.
func decodeRecord(body string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("record is null")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after record")
	}
	for k := range fields {
		switch k {
		case fieldPrice, fieldInStock, fieldCurrency:
		default:
			return nil, fmt.Errorf("unexpected field %q", k)
		}
	}
	return fields, nil
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func parsePrice(v json.RawMessage) (decimal.NullDecimal, error) {
	if isNull(v) {
		return decimal.NullDecimal{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var val interface{}
	if err := dec.Decode(&val); err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("price: %w", err)
	}
	num, ok := val.(json.Number)
	if !ok {
		return decimal.NullDecimal{}, fmt.Errorf("price is %T, want number", val)
	}
	d, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("price %s: %w", num, err)
	}
	// underflow reports ErrRange with a finite result; only overflow is fatal
	if f, _ := strconv.ParseFloat(num.String(), 64); math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.NullDecimal{}, fmt.Errorf("price %s is not finite", num)
	}
	if d.IsNegative() {
		return decimal.NullDecimal{}, fmt.Errorf("price %s is negative", num)
	}
	return decimal.NewNullDecimal(d), nil
}

func parseInStock(v json.RawMessage) (bool, error) {
	if isNull(v) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		return false, fmt.Errorf("in_stock is not a boolean")
	}
	return b, nil
}

func parseCurrency(v json.RawMessage) (string, error) {
	if isNull(v) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("currency is not a string")
	}
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	return s, nil
}

// --- helpers ---

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
