package pricing

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed countries.yaml
var defaultCountries []byte

type Method string

const (
	MethodStandard Method = "standard"
	MethodExpress  Method = "express"
)

// ParseMethod maps unknown or empty input to MethodStandard.
func ParseMethod(s string) Method {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodExpress:
		return MethodExpress
	default:
		return MethodStandard
	}
}

type Tier struct {
	UpTo decimal.Decimal
	Cost decimal.Decimal
}

type ShippingRule struct {
	Base     decimal.Decimal
	FreeOver *decimal.Decimal
	Tiers    []Tier
}

// Cost returns the shipping charge for a net merchandise amount.
func (r ShippingRule) Cost(subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return r.Base
	}
	if r.FreeOver != nil && subtotal.GreaterThan(*r.FreeOver) {
		return decimal.Zero
	}
	for _, tier := range r.Tiers {
		if subtotal.LessThanOrEqual(tier.UpTo) {
			return tier.Cost
		}
	}
	return r.Base
}

type Country struct {
	TaxRate  decimal.Decimal
	Shipping map[Method]ShippingRule
}

// Table is the per-country shipping and tax configuration.
type Table struct {
	DefaultCountry string
	DefaultTaxRate decimal.Decimal
	Countries      map[string]Country
}

type rawTier struct {
	UpTo float64 `yaml:"up_to"`
	Cost float64 `yaml:"cost"`
}

type rawRule struct {
	Base     float64   `yaml:"base"`
	FreeOver *float64  `yaml:"free_over"`
	Tiers    []rawTier `yaml:"tiers"`
}

type rawCountry struct {
	TaxRate  float64            `yaml:"tax_rate"`
	Shipping map[string]rawRule `yaml:"shipping"`
}

type rawTable struct {
	DefaultCountry string                `yaml:"default_country"`
	DefaultTaxRate float64               `yaml:"default_tax_rate"`
	Countries      map[string]rawCountry `yaml:"countries"`
}

func LoadTable(r io.Reader) (*Table, error) {
	var raw rawTable
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode pricing table: %w", err)
	}

	t := &Table{
		DefaultCountry: strings.ToUpper(raw.DefaultCountry),
		DefaultTaxRate: decimal.NewFromFloat(raw.DefaultTaxRate),
		Countries:      make(map[string]Country, len(raw.Countries)),
	}
	if err := checkRate("default", t.DefaultTaxRate); err != nil {
		return nil, err
	}

	for code, rc := range raw.Countries {
		code = strings.ToUpper(code)
		if len(code) != 2 {
			return nil, fmt.Errorf("pricing table: invalid country code %q", code)
		}

		c := Country{
			TaxRate:  decimal.NewFromFloat(rc.TaxRate),
			Shipping: make(map[Method]ShippingRule, len(rc.Shipping)),
		}
		if err := checkRate(code, c.TaxRate); err != nil {
			return nil, err
		}

		for name, rr := range rc.Shipping {
			method := Method(strings.ToLower(name))
			if method != MethodStandard && method != MethodExpress {
				return nil, fmt.Errorf("pricing table: %s: unknown shipping method %q", code, name)
			}
			rule, err := convertRule(rr)
			if err != nil {
				return nil, fmt.Errorf("pricing table: %s/%s: %w", code, name, err)
			}
			c.Shipping[method] = rule
		}
		if _, ok := c.Shipping[MethodStandard]; !ok {
			return nil, fmt.Errorf("pricing table: %s: standard shipping is required", code)
		}

		t.Countries[code] = c
	}

	if _, ok := t.Countries[t.DefaultCountry]; !ok {
		return nil, fmt.Errorf("pricing table: default country %q is not configured", t.DefaultCountry)
	}

	return t, nil
}

func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pricing table: %w", err)
	}
	defer f.Close()

	return LoadTable(f)
}

// DefaultTable returns the table compiled into the binary.
func DefaultTable() *Table {
	t, err := LoadTable(bytes.NewReader(defaultCountries))
	if err != nil {
		panic(err)
	}
	return t
}

// WithDefaultCountry returns a copy of t falling back to code. Unconfigured
// codes are rejected.
func (t *Table) WithDefaultCountry(code string) (*Table, error) {
	code = strings.ToUpper(code)
	if _, ok := t.Countries[code]; !ok {
		return nil, fmt.Errorf("pricing table: default country %q is not configured", code)
	}
	cp := *t
	cp.DefaultCountry = code
	return &cp, nil
}

func (t *Table) country(code string) (Country, bool) {
	c, ok := t.Countries[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}

func (t *Table) rule(code string, method Method) ShippingRule {
	c, ok := t.country(code)
	if !ok {
		c = t.Countries[t.DefaultCountry]
	}
	if rule, ok := c.Shipping[method]; ok {
		return rule
	}
	return c.Shipping[MethodStandard]
}

func (t *Table) taxRate(code string) decimal.Decimal {
	if c, ok := t.country(code); ok {
		return c.TaxRate
	}
	return t.DefaultTaxRate
}

func convertRule(rr rawRule) (ShippingRule, error) {
	rule := ShippingRule{Base: decimal.NewFromFloat(rr.Base)}
	if rule.Base.IsNegative() {
		return rule, fmt.Errorf("negative base cost")
	}
	if rr.FreeOver != nil {
		v := decimal.NewFromFloat(*rr.FreeOver)
		rule.FreeOver = &v
	}
	for _, rt := range rr.Tiers {
		tier := Tier{UpTo: decimal.NewFromFloat(rt.UpTo), Cost: decimal.NewFromFloat(rt.Cost)}
		if tier.Cost.IsNegative() {
			return rule, fmt.Errorf("negative tier cost")
		}
		rule.Tiers = append(rule.Tiers, tier)
	}
	sort.Slice(rule.Tiers, func(i, j int) bool {
		return rule.Tiers[i].UpTo.LessThan(rule.Tiers[j].UpTo)
	})
	return rule, nil
}

func checkRate(name string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("pricing table: %s: tax rate %s outside [0, 1)", name, rate)
	}
	return nil
}
