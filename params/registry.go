package params

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

// RegistryFile is the on-disk asset list. Values may reference environment variables
// (${VAR}), expanded before parsing.
type RegistryFile struct {
	Base   string       `yaml:"base"`
	Assets []AssetEntry `yaml:"assets"`
}

type AssetEntry struct {
	Symbol   string `yaml:"symbol"`
	Token    string `yaml:"token"`
	Decimals int32  `yaml:"decimals"`
}

// DefaultRegistry is the devnet asset set: DAI as base, BAT and REP tradable
func DefaultRegistry() *asset.Registry {
	reg, err := asset.NewRegistry("DAI",
		asset.Asset{Symbol: "DAI", Token: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Decimals: 18},
		asset.Asset{Symbol: "BAT", Token: common.HexToAddress("0x0D8775F648430679A709E98d2b0Cb6250d2887EF"), Decimals: 18},
		asset.Asset{Symbol: "REP", Token: common.HexToAddress("0x221657776846890989a759BA2973e427DfF5C9bB"), Decimals: 18},
	)
	if err != nil {
		panic(err)
	}
	return reg
}

// LoadRegistry reads a registry file; an empty path yields DefaultRegistry
func LoadRegistry(path string) (*asset.Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	raw = []byte(os.ExpandEnv(string(raw)))

	var file RegistryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry file %s: %w", path, err)
	}
	return file.Build()
}

// Build validates the file contents and produces an immutable registry
func (f RegistryFile) Build() (*asset.Registry, error) {
	assets := make([]asset.Asset, 0, len(f.Assets))
	for _, a := range f.Assets {
		if a.Token != "" && !common.IsHexAddress(a.Token) {
			return nil, fmt.Errorf("asset %s: invalid token address %q", a.Symbol, a.Token)
		}
		if a.Decimals < 0 || a.Decimals > 77 {
			return nil, fmt.Errorf("asset %s: decimals %d out of range", a.Symbol, a.Decimals)
		}
		assets = append(assets, asset.Asset{
			Symbol:   asset.Symbol(a.Symbol),
			Token:    common.HexToAddress(a.Token),
			Decimals: a.Decimals,
		})
	}
	return asset.NewRegistry(asset.Symbol(f.Base), assets...)
}
