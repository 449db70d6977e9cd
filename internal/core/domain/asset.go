package domain

import (
	"fmt"
	"strings"
)

// Asset identifies a tracked coin. ProviderID is the upstream key, Symbol
// is the display key stored next to every row.
type Asset struct {
	Symbol     string `yaml:"symbol"      json:"symbol"`
	ProviderID string `yaml:"provider_id" json:"provider_id"`
}

func (a Asset) String() string {
	return fmt.Sprintf("%s(%s)", a.Symbol, a.ProviderID)
}

// DefaultAssets is used when no asset list is configured.
var DefaultAssets = []Asset{
	{Symbol: "aave", ProviderID: "aave"},
	{Symbol: "cro", ProviderID: "crypto-com-chain"},
	{Symbol: "link", ProviderID: "chainlink"},
}

// ValidateAssets rejects an asset list that cannot be run: empty, blank
// identifiers, or the same provider id listed twice.
func ValidateAssets(assets []Asset) error {
	if len(assets) == 0 {
		return fmt.Errorf("%w: asset list is empty", ErrValidation)
	}
	seen := make(map[string]struct{}, len(assets))
	for i, a := range assets {
		if strings.TrimSpace(a.Symbol) == "" || strings.TrimSpace(a.ProviderID) == "" {
			return fmt.Errorf("%w: asset #%d needs both symbol and provider_id", ErrValidation, i)
		}
		if _, ok := seen[a.ProviderID]; ok {
			return fmt.Errorf("%w: duplicate asset %q", ErrValidation, a.ProviderID)
		}
		seen[a.ProviderID] = struct{}{}
	}
	return nil
}

// ParseAssetList parses "symbol:provider_id" pairs separated by commas.
// A bare id is used for both fields.
func ParseAssetList(s string) ([]Asset, error) {
	var assets []Asset
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		symbol, id, found := strings.Cut(part, ":")
		if !found {
			id = symbol
		}
		assets = append(assets, Asset{
			Symbol:     strings.TrimSpace(symbol),
			ProviderID: strings.TrimSpace(id),
		})
	}
	if err := ValidateAssets(assets); err != nil {
		return nil, err
	}
	return assets, nil
}
