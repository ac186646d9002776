package browser

import (
	"strings"

	"github.com/chromedp/chromedp"
)

// isXPath reports whether the selector expression is XPath rather than CSS.
// Anything anchored at the document root or the current node is XPath;
// everything else is treated as CSS.
func isXPath(selector string) bool {
	for _, prefix := range []string{"//", "./", "/", "(/"} {
		if strings.HasPrefix(selector, prefix) {
			return true
		}
	}
	return false
}

// queryOption picks the chromedp query strategy matching the selector syntax.
func queryOption(selector string) chromedp.QueryOption {
	if isXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQueryAll
}
