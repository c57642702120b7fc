package data

import (
	"fmt"
	"strings"
)

// Options selects and configures a provider chain.
type Options struct {
	Provider  string // massive | csv | synthetic
	Secondary string // optional fallback, same names
	APIKey    string
	BaseURL   string
	CSVDir    string
	Seed      uint64
}

// New builds the configured provider, wiring the secondary as fallback.
func New(opts Options) (Provider, error) {
	var secondary Provider
	if opts.Secondary != "" {
		if strings.EqualFold(opts.Secondary, opts.Provider) {
			return nil, fmt.Errorf("secondary provider %q duplicates primary", opts.Secondary)
		}
		var err error
		secondary, err = build(opts.Secondary, opts, nil)
		if err != nil {
			return nil, fmt.Errorf("secondary: %w", err)
		}
	}
	return build(opts.Provider, opts, secondary)
}

func build(name string, opts Options, secondary Provider) (Provider, error) {
	switch strings.ToLower(name) {
	case "massive", "polygon":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("massive provider requires an API key")
		}
		return NewMassiveDataProvider(opts.APIKey, opts.BaseURL, secondary), nil
	case "csv", "local":
		if opts.CSVDir == "" {
			return nil, fmt.Errorf("csv provider requires a directory")
		}
		return NewLocalFileDataProvider(opts.CSVDir, secondary), nil
	case "synthetic":
		return NewSyntheticProvider(opts.Seed, secondary), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
