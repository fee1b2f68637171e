package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Trade columns a CSV header can be mapped onto.
const (
	FieldTicker     = "ticker"
	FieldPlatformID = "platform_id"
	FieldPrice      = "price"
	FieldQuantity   = "quantity"
	FieldDate       = "date"
	FieldTradeType  = "trade_type"
)

// OtherPlatform is the fallback mapping key. Rows imported with it must
// carry their own platform_id column.
const OtherPlatform = "OTHER"

var knownFields = map[string]bool{
	FieldTicker:     true,
	FieldPlatformID: true,
	FieldPrice:      true,
	FieldQuantity:   true,
	FieldDate:       true,
	FieldTradeType:  true,
}

// Mapping maps CSV header names to trade fields. An empty target ignores
// the column.
type Mapping map[string]string

// Mappings holds one Mapping per platform name plus the OTHER fallback.
type Mappings map[string]Mapping

// DefaultMappings maps the trade columns onto themselves under OTHER.
func DefaultMappings() Mappings {
	identity := Mapping{}
	for f := range knownFields {
		identity[f] = f
	}
	return Mappings{OtherPlatform: identity}
}

// LoadMappings reads a JSON mapping file of the form
// {"Robinhood": {"Symbol": "ticker", ...}, "OTHER": {...}}.
// An empty path yields DefaultMappings.
func LoadMappings(path string) (Mappings, error) {
	if path == "" {
		return DefaultMappings(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("importer: read mapping file: %w", err)
	}
	return ParseMappings(data)
}

// ParseMappings decodes and checks a JSON mapping document.
func ParseMappings(data []byte) (Mappings, error) {
	var m Mappings
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("importer: decode mapping file: %w", err)
	}
	if m == nil {
		m = Mappings{}
	}
	for platform, mapping := range m {
		for header, field := range mapping {
			if field != "" && !knownFields[field] {
				return nil, fmt.Errorf("importer: mapping %q maps %q to unknown field %q", platform, header, field)
			}
		}
	}
	if _, ok := m[OtherPlatform]; !ok {
		m[OtherPlatform] = DefaultMappings()[OtherPlatform]
	}
	return m, nil
}

// For returns the mapping of platform, falling back to OTHER.
func (m Mappings) For(platform string) Mapping {
	if mp, ok := m[platform]; ok {
		return mp
	}
	return m[OtherPlatform]
}

// IsOther reports whether platform names the fallback, whose rows carry
// their own platform_id.
func IsOther(platform string) bool {
	return strings.EqualFold(strings.TrimSpace(platform), OtherPlatform)
}
