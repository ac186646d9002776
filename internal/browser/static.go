package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/savagescraper/savage/internal/scrape"
)

// StaticOptions configure the static HTML session.
type StaticOptions struct {
	UserAgent      string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// StaticSession fetches pages over plain HTTP and parses them without running
// JavaScript. It supports CSS selectors only and cannot interact with the
// page, so Click reports scrape.ErrClickUnsupported.
type StaticSession struct {
	collector *colly.Collector
	logger    *zap.Logger

	mu   sync.Mutex
	body []byte
	doc  *goquery.Document
}

// NewStaticSession builds a session over a dedicated colly collector.
func NewStaticSession(opts StaticOptions) *StaticSession {
	collectorOpts := []colly.CollectorOption{}
	if opts.UserAgent != "" {
		collectorOpts = append(collectorOpts, colly.UserAgent(opts.UserAgent))
	}
	c := colly.NewCollector(collectorOpts...)
	c.AllowURLRevisit = true
	if opts.RequestTimeout > 0 {
		c.SetRequestTimeout(opts.RequestTimeout)
	}
	c.WithTransport(&http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	})

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticSession{collector: c, logger: logger}
}

// NewStaticFactory returns a SessionFactory producing static sessions.
func NewStaticFactory(opts StaticOptions) scrape.SessionFactory {
	return func(_ context.Context, workerID int) (scrape.Session, error) {
		o := opts
		if o.Logger != nil {
			o.Logger = o.Logger.With(zap.Int("worker", workerID))
		}
		return NewStaticSession(o), nil
	}
}

// Navigate fetches the URL and parses the response body. The previously
// loaded page is replaced only on success.
func (s *StaticSession) Navigate(ctx context.Context, url string) error {
	collector := s.collector.Clone()

	var (
		once sync.Once
		body []byte
		ferr error
	)
	collector.OnResponse(func(r *colly.Response) {
		once.Do(func() {
			body = append([]byte{}, r.Body...)
		})
	})
	collector.OnError(func(_ *colly.Response, err error) {
		once.Do(func() {
			if err == nil {
				err = errors.New("unknown fetch error")
			}
			ferr = err
		})
	})

	if err := collector.Visit(url); err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if ferr != nil {
		return fmt.Errorf("fetch %s: %w", url, ferr)
	}
	if body == nil {
		return fmt.Errorf("fetch %s: no response", url)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", url, err)
	}

	s.mu.Lock()
	s.body = body
	s.doc = doc
	s.mu.Unlock()
	return nil
}

func (s *StaticSession) document() *goquery.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// FindElements evaluates the fallback selectors against the loaded document.
// XPath expressions are skipped with a debug log since goquery only speaks
// CSS.
func (s *StaticSession) FindElements(_ context.Context, selectors []string) ([]scrape.Element, error) {
	doc := s.document()
	if doc == nil {
		return nil, errors.New("no page loaded")
	}
	for _, sel := range selectors {
		if isXPath(sel) {
			s.logger.Debug("skipping xpath selector in static session", zap.String("selector", sel))
			continue
		}
		matches := doc.Find(sel)
		if matches.Length() == 0 {
			continue
		}
		els := make([]scrape.Element, 0, matches.Length())
		matches.Each(func(_ int, node *goquery.Selection) {
			els = append(els, &staticElement{sel: node})
		})
		return els, nil
	}
	return nil, nil
}

// Click is not possible without a browser.
func (s *StaticSession) Click(context.Context, []string) error {
	return scrape.ErrClickUnsupported
}

// PageSource returns the last fetched body.
func (s *StaticSession) PageSource(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.body == nil {
		return "", errors.New("no page loaded")
	}
	return string(s.body), nil
}

// Close releases nothing; the session holds no persistent connections beyond
// the transport's idle pool.
func (s *StaticSession) Close(context.Context) error {
	return nil
}

type staticElement struct {
	sel *goquery.Selection
}

func (e *staticElement) Text(context.Context) (string, error) {
	return CleanText(e.sel.Text()), nil
}

func (e *staticElement) Attribute(_ context.Context, name string) (string, error) {
	val, _ := e.sel.Attr(name)
	return val, nil
}

func (e *staticElement) FindAll(_ context.Context, selector string) ([]scrape.Element, error) {
	if isXPath(selector) {
		return nil, fmt.Errorf("xpath selector %q unsupported in static session", selector)
	}
	matches := e.sel.Find(selector)
	els := make([]scrape.Element, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		els = append(els, &staticElement{sel: s})
	})
	return els, nil
}
