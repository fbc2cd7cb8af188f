package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/abpkit/abpfilter/rules"
	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"
)

// fileConfig is the structure of the YAML configuration file.
type fileConfig struct {
	// StateDB is the path to the rule state database.  Empty means that the
	// states are not persisted.
	StateDB string `yaml:"state_db"`

	// Filters are the paths to the filter lists.
	Filters []string `yaml:"filters"`

	// ResultCacheSize is the capacity of the match result cache.
	ResultCacheSize int `yaml:"result_cache_size"`

	// StyleSheetCacheSize is the capacity of the style sheet cache.
	StyleSheetCacheSize int `yaml:"stylesheet_cache_size"`

	// IgnoreCosmetic makes the lists skip content rules.
	IgnoreCosmetic bool `yaml:"ignore_cosmetic"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
}

// readConfig reads the configuration file at path.
func readConfig(path string) (c *fileConfig, err error) {
	// #nosec G304 -- The path is provided by the user.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	c = &fileConfig{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	err = dec.Decode(c)
	if err != nil {
		return nil, fmt.Errorf("decoding config %q: %w", path, err)
	}

	if c.ResultCacheSize < 0 || c.StyleSheetCacheSize < 0 {
		return nil, fmt.Errorf("config %q: cache sizes must not be negative", path)
	}

	return c, nil
}

// merge overrides the file configuration with the command-line options.
func (c *fileConfig) merge(opts *options) {
	c.Filters = append(c.Filters, opts.Filters...)
	c.Verbose = c.Verbose || opts.Verbose
	c.IgnoreCosmetic = c.IgnoreCosmetic || opts.IgnoreCosmetic
	if opts.StateDB != "" {
		c.StateDB = opts.StateDB
	}
}

// parseTypes returns the content type mask of the comma-separated type names.
func parseTypes(names string) (mask rules.ContentType, err error) {
	for name := range strings.SplitSeq(names, ",") {
		t, ok := rules.ParseContentType(strings.ToLower(strings.TrimSpace(name)))
		if !ok {
			return 0, fmt.Errorf("unknown content type %q", name)
		}

		mask |= t
	}

	return mask, nil
}

// validateDomain returns an error if domain is not empty and is not a valid
// domain name.
func validateDomain(domain string) (err error) {
	if domain == "" {
		return nil
	}

	if _, ok := dns.IsDomainName(domain); !ok || strings.Contains(domain, " ") {
		return fmt.Errorf("bad domain %q", domain)
	}

	return nil
}
