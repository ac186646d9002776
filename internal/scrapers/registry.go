// Package scrapers holds the site extraction strategies the pipeline can run.
package scrapers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/savagescraper/savage/internal/config"
	"github.com/savagescraper/savage/internal/scrape"
)

var registry = map[string]func(config.Config) scrape.Behavior{
	"categories": func(cfg config.Config) scrape.Behavior { return NewCategories(cfg) },
	"products":   func(cfg config.Config) scrape.Behavior { return NewProducts(cfg) },
}

// New builds the named behavior.
func New(name string, cfg config.Config) (scrape.Behavior, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown scraper %q (available: %s)",
			name, strings.Join(Names(), ", "))
	}
	return build(cfg), nil
}

// Names lists the registered behaviors, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
