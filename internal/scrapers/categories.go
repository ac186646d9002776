package scrapers

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/savagescraper/savage/internal/config"
	"github.com/savagescraper/savage/internal/scrape"
)

// Selector groups used by the categories behavior.
const (
	groupCategoriesReady = "categories_ready"
	groupCategoryLinks   = "category_links"
	groupCategoryName    = "category_name"
)

// Categories extracts the category tree from a site's navigation menu. The
// input is typically a single item carrying the menu page URL; each located
// link element becomes one output row.
type Categories struct {
	key      string
	nameSels []string
}

// NewCategories builds the behavior from site configuration.
func NewCategories(cfg config.Config) *Categories {
	key := cfg.Key
	if key == "" {
		key = "default"
	}
	return &Categories{
		key:      key,
		nameSels: cfg.Group(groupCategoryName),
	}
}

func (c *Categories) Name() string { return "categories" }

// TrackingKey is the item field holding the menu page URL.
func (c *Categories) TrackingKey() string { return "page_url" }

// ResumeKeyField is the output column whose value identifies a processed row.
func (c *Categories) ResumeKeyField() string { return "category_url" }

func (c *Categories) OutputFile(outputDir string) string {
	return filepath.Join(outputDir, fmt.Sprintf("categories_%s.csv", c.key))
}

func (c *Categories) RequiredSelectorGroups() []string {
	return []string{groupCategoriesReady, groupCategoryLinks}
}

func (c *Categories) ReadySelectorGroup() string { return groupCategoriesReady }

func (c *Categories) CategorySelectorGroup() string { return groupCategoryLinks }

// ProcessElement turns one category link into a row. The link target is
// required; the display name falls back from the configured name selector to
// the link's own text.
func (c *Categories) ProcessElement(ctx context.Context, el scrape.Element, item scrape.Item) (scrape.Result, error) {
	href, err := el.Attribute(ctx, "href")
	if err != nil {
		return nil, fmt.Errorf("category link href: %w", err)
	}
	if href == "" {
		return nil, fmt.Errorf("category link has no href")
	}

	name := ""
	for _, sel := range c.nameSels {
		nodes, ferr := el.FindAll(ctx, sel)
		if ferr != nil || len(nodes) == 0 {
			continue
		}
		if text, terr := nodes[0].Text(ctx); terr == nil && text != "" {
			name = text
			break
		}
	}
	if name == "" {
		text, terr := el.Text(ctx)
		if terr != nil {
			return nil, fmt.Errorf("category link text: %w", terr)
		}
		name = text
	}

	return scrape.Result{
		"category":     name,
		"category_url": href,
		"page_url":     item.Field(c.TrackingKey()),
		"scraped_at":   time.Now().Format(time.RFC3339),
	}, nil
}

// EmptyResult keeps an item with no extractable categories accounted for in
// output.
func (c *Categories) EmptyResult(item scrape.Item) scrape.Result {
	return scrape.Result{
		"category":     "",
		"category_url": "",
		"page_url":     item.Field(c.TrackingKey()),
		"scraped_at":   time.Now().Format(time.RFC3339),
	}
}
