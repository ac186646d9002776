package scrapers

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/savagescraper/savage/internal/config"
	"github.com/savagescraper/savage/internal/scrape"
)

// Selector groups used by the products behavior.
const (
	groupProductsReady    = "products_ready"
	groupProductContainer = "product_container"
	groupProductLink      = "product_link"
	groupProductPrice     = "product_price"
	groupProductReviews   = "product_reviews"
)

// Products extracts product listings from category pages. Items come from the
// categories output: each carries a listing URL plus the category lineage,
// which is copied onto every product row.
type Products struct {
	key        string
	linkSels   []string
	priceSels  []string
	reviewSels []string
}

// NewProducts builds the behavior from site configuration.
func NewProducts(cfg config.Config) *Products {
	key := cfg.Key
	if key == "" {
		key = "default"
	}
	return &Products{
		key:        key,
		linkSels:   cfg.Group(groupProductLink),
		priceSels:  cfg.Group(groupProductPrice),
		reviewSels: cfg.Group(groupProductReviews),
	}
}

func (p *Products) Name() string { return "products" }

// TrackingKey is the item field holding the category listing URL.
func (p *Products) TrackingKey() string { return "category_url" }

// ResumeKeyField is the output column identifying a processed listing. The
// listing URL, not the product URL, is the resume identity: one listing
// produces many product rows and is done when any of them persisted.
func (p *Products) ResumeKeyField() string { return "category_url" }

func (p *Products) OutputFile(outputDir string) string {
	return filepath.Join(outputDir, fmt.Sprintf("products_%s.csv", p.key))
}

func (p *Products) RequiredSelectorGroups() []string {
	return []string{groupProductsReady, groupProductContainer, groupProductLink}
}

func (p *Products) ReadySelectorGroup() string { return groupProductsReady }

func (p *Products) CategorySelectorGroup() string { return groupProductContainer }

// ProcessElement extracts one product from its container. The product URL is
// essential; containers without one are skipped with an error. Price and
// review text are best-effort.
func (p *Products) ProcessElement(ctx context.Context, el scrape.Element, item scrape.Item) (scrape.Result, error) {
	href := p.firstAttribute(ctx, el, p.linkSels, "href")
	if href == "" {
		return nil, fmt.Errorf("product container has no link")
	}

	res := scrape.Result{
		"category":     item.Field("category"),
		"category_url": item.Field("category_url"),
		"product_url":  href,
		"price":        p.firstText(ctx, el, p.priceSels),
		"reviews":      p.firstText(ctx, el, p.reviewSels),
		"scraped_at":   time.Now().Format(time.RFC3339),
	}
	return res, nil
}

// EmptyResult marks a listing page with no extractable products as processed.
func (p *Products) EmptyResult(item scrape.Item) scrape.Result {
	return scrape.Result{
		"category":     item.Field("category"),
		"category_url": item.Field("category_url"),
		"product_url":  "",
		"price":        "",
		"reviews":      "",
		"scraped_at":   time.Now().Format(time.RFC3339),
	}
}

func (p *Products) firstAttribute(ctx context.Context, el scrape.Element, selectors []string, attr string) string {
	for _, sel := range selectors {
		nodes, err := el.FindAll(ctx, sel)
		if err != nil || len(nodes) == 0 {
			continue
		}
		if val, aerr := nodes[0].Attribute(ctx, attr); aerr == nil && val != "" {
			return val
		}
	}
	return ""
}

func (p *Products) firstText(ctx context.Context, el scrape.Element, selectors []string) string {
	for _, sel := range selectors {
		nodes, err := el.FindAll(ctx, sel)
		if err != nil || len(nodes) == 0 {
			continue
		}
		if text, terr := nodes[0].Text(ctx); terr == nil && text != "" {
			return text
		}
	}
	return ""
}
