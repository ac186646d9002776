// Package scrape defines the contracts between the orchestration pipeline and
// the site-specific extraction strategies it runs.
package scrape

import (
	"context"
	"errors"
)

// ErrClickUnsupported is returned by sessions that cannot interact with the
// page (e.g. the static HTML session).
var ErrClickUnsupported = errors.New("click not supported by this session")

// Behavior supplies everything site-specific: which item field is the
// navigation target, where output goes, which selector groups the run needs,
// and how a located element becomes a Result. Implementations must be safe
// for concurrent use; one Behavior instance is shared by all workers.
type Behavior interface {
	// Name identifies the behavior for logging and the CLI registry.
	Name() string
	// TrackingKey names the item field holding the navigation target.
	TrackingKey() string
	// ResumeKeyField names the result field whose value is the durable row
	// identity used for resume matching.
	ResumeKeyField() string
	// OutputFile returns the output path for this behavior under outputDir.
	OutputFile(outputDir string) string
	// RequiredSelectorGroups lists the selector groups that must exist in
	// configuration before any worker starts.
	RequiredSelectorGroups() []string
	// ReadySelectorGroup names the group whose presence marks the page ready.
	ReadySelectorGroup() string
	// CategorySelectorGroup names the group locating extractable elements.
	CategorySelectorGroup() string
	// ProcessElement turns one located element into one Result.
	ProcessElement(ctx context.Context, el Element, item Item) (Result, error)
	// EmptyResult builds the placeholder row recorded when extraction yields
	// nothing, keeping every input item accounted for in output.
	EmptyResult(item Item) Result
}

// Session is one worker's private handle on a rendered page. Selector slices
// are ordered fallback lists: implementations try each expression until one
// matches.
type Session interface {
	Navigate(ctx context.Context, url string) error
	FindElements(ctx context.Context, selectors []string) ([]Element, error)
	// Click activates the first matching element from the fallback list.
	Click(ctx context.Context, selectors []string) error
	// PageSource returns the current raw page markup, used for debug snapshots.
	PageSource(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Element is a located page element.
type Element interface {
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	// FindAll locates descendant elements by a single selector expression.
	FindAll(ctx context.Context, selector string) ([]Element, error)
}

// SessionFactory builds one Session per worker. The worker id is provided for
// log scoping.
type SessionFactory func(ctx context.Context, workerID int) (Session, error)
