// Package snapshot saves raw page markup for unrecovered error pages.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Sink writes one snapshot file per unrecovered error page, named
// deterministically from the item identity and a timestamp.
type Sink struct {
	root   string
	logger *zap.Logger
}

// NewSink returns a sink rooted at dir.
func NewSink(root string, logger *zap.Logger) (*Sink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot dir %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{root: root, logger: logger}, nil
}

// Save writes the page markup and returns the snapshot path.
func (s *Sink) Save(ctx context.Context, identity, html string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	name := fmt.Sprintf("%s_%s.html", sanitize(identity), time.Now().Format("20060102_150405"))
	target := filepath.Join(s.root, name)
	if err := os.WriteFile(target, []byte(html), 0o600); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", target, err)
	}
	s.logger.Warn("saved error page snapshot", zap.String("path", target))
	return target, nil
}

func sanitize(identity string) string {
	cleaned := unsafeChars.ReplaceAllString(identity, "_")
	const maxLen = 120
	if len(cleaned) > maxLen {
		cleaned = cleaned[len(cleaned)-maxLen:]
	}
	if cleaned == "" {
		cleaned = "item"
	}
	return cleaned
}
