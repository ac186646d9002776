// Package browser provides the page session implementations: a headless
// Chrome session for JavaScript-rendered sites and a static HTTP session for
// plain HTML.
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/savagescraper/savage/internal/scrape"
)

// ErrNoMatch indicates that none of the fallback selectors matched anything.
var ErrNoMatch = errors.New("no selector matched")

// ChromeOptions configure the headless browser.
type ChromeOptions struct {
	Headless bool
	// Translate enables Chrome's built-in page translation prompt. Most runs
	// want it off so the DOM matches the configured selectors.
	Translate bool
	UserAgent string
	Logger    *zap.Logger
}

// ChromeSession is one worker's private Chrome tab.
type ChromeSession struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

// NewChromeSession starts a dedicated browser process and warms it up. The
// parent ctx bounds the browser's lifetime: cancelling it tears the browser
// down.
func NewChromeSession(ctx context.Context, opts ChromeOptions) (*ChromeSession, error) {
	flags := chromedp.DefaultExecAllocatorOptions[:]
	flags = append(flags,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
	)
	if !opts.Translate {
		flags = append(flags, chromedp.Flag("disable-features", "Translate"))
	}
	if opts.UserAgent != "" {
		flags = append(flags, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, flags...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeSession{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// NewChromeFactory returns a SessionFactory launching one browser per worker.
func NewChromeFactory(opts ChromeOptions) scrape.SessionFactory {
	return func(ctx context.Context, workerID int) (scrape.Session, error) {
		o := opts
		if o.Logger != nil {
			o.Logger = o.Logger.With(zap.Int("worker", workerID))
		}
		return NewChromeSession(ctx, o)
	}
}

// run executes chromedp actions on the session tab while honoring the
// caller's context.
func (s *ChromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.browserCtx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// forwardCancel propagates the caller's cancellation into the chromedp task
// context, which otherwise only observes its own lineage.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Navigate loads the URL in the session tab.
func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// FindElements tries each fallback selector in order and returns the matches
// of the first one that yields anything.
func (s *ChromeSession) FindElements(ctx context.Context, selectors []string) ([]scrape.Element, error) {
	for _, sel := range selectors {
		var nodes []*cdp.Node
		err := s.run(ctx, chromedp.Nodes(sel, &nodes, queryOption(sel), chromedp.AtLeast(0)))
		if err != nil {
			s.logger.Debug("selector query failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if len(nodes) == 0 {
			continue
		}
		els := make([]scrape.Element, len(nodes))
		for i, n := range nodes {
			els[i] = &chromeElement{session: s, node: n}
		}
		return els, nil
	}
	return nil, nil
}

// Click activates the first matching element from the fallback list.
func (s *ChromeSession) Click(ctx context.Context, selectors []string) error {
	for _, sel := range selectors {
		var nodes []*cdp.Node
		if err := s.run(ctx, chromedp.Nodes(sel, &nodes, queryOption(sel), chromedp.AtLeast(0))); err != nil {
			continue
		}
		if len(nodes) == 0 {
			continue
		}
		if err := s.run(ctx, chromedp.Click(sel, queryOption(sel))); err != nil {
			return fmt.Errorf("click %s: %w", sel, err)
		}
		return nil
	}
	return ErrNoMatch
}

// PageSource returns the full document markup.
func (s *ChromeSession) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("page source: %w", err)
	}
	return html, nil
}

// Close tears down the tab, browser, and allocator.
func (s *ChromeSession) Close(ctx context.Context) error {
	s.browserCancel()
	s.allocCancel()
	return nil
}

// chromeElement is a located DOM node bound to its owning session.
type chromeElement struct {
	session *ChromeSession
	node    *cdp.Node
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	err := e.session.run(ctx, chromedp.Text(e.node.FullXPath(), &text, chromedp.BySearch))
	if err != nil {
		return "", fmt.Errorf("element text: %w", err)
	}
	return CleanText(text), nil
}

func (e *chromeElement) Attribute(ctx context.Context, name string) (string, error) {
	// Attributes were captured when the node was located; href and friends do
	// not change under us between location and read.
	if val := e.node.AttributeValue(name); val != "" {
		return val, nil
	}
	var val string
	var ok bool
	err := e.session.run(ctx,
		chromedp.AttributeValue(e.node.FullXPath(), name, &val, &ok, chromedp.BySearch))
	if err != nil {
		return "", fmt.Errorf("element attribute %s: %w", name, err)
	}
	if !ok {
		return "", nil
	}
	return val, nil
}

func (e *chromeElement) FindAll(ctx context.Context, selector string) ([]scrape.Element, error) {
	var nodes []*cdp.Node
	err := e.session.run(ctx, chromedp.Nodes(selector, &nodes,
		queryOption(selector), chromedp.FromNode(e.node), chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("find descendants %s: %w", selector, err)
	}
	els := make([]scrape.Element, len(nodes))
	for i, n := range nodes {
		els[i] = &chromeElement{session: e.session, node: n}
	}
	return els, nil
}
