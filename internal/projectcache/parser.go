package projectcache

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport"
)

// ProjectParser is satisfied by *etsimport.Parser.
type ProjectParser interface {
	ParseBytes(ctx context.Context, data []byte, opts etsimport.Options) (*etsimport.ParseResult, error)
}

// Logger is the logging interface used by CachingParser.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// CachingParser serves repeated parses of identical input from a
// Repository. Cache failures are logged and never fail a parse.
type CachingParser struct {
	parser     ProjectParser
	repo       Repository
	maxEntries int
	logger     Logger
}

// NewCachingParser wraps parser with repo. maxEntries bounds the cache
// after every store; 0 leaves it unbounded.
func NewCachingParser(parser ProjectParser, repo Repository, maxEntries int) *CachingParser {
	return &CachingParser{parser: parser, repo: repo, maxEntries: maxEntries, logger: noopLogger{}}
}

// SetLogger sets the logger for cache diagnostics.
func (c *CachingParser) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// ParseBytes returns the cached result for (data, password, language) or
// parses and stores it. Failed parses are not cached.
func (c *CachingParser) ParseBytes(ctx context.Context, data []byte, opts etsimport.Options) (*etsimport.ParseResult, error) {
	if len(data) > etsimport.MaxFileSize {
		return nil, etsimport.ErrFileTooLarge
	}
	key := Key(etsimport.ContentHash(data), opts.Password, opts.Language)

	cached, err := c.repo.Get(ctx, key)
	switch {
	case err == nil:
		c.logger.Debug("project cache hit", "key", key)
		return cached, nil
	case !errors.Is(err, ErrNotFound):
		c.logger.Warn("project cache read failed", "key", key, "error", err)
	}

	result, err := c.parser.ParseBytes(ctx, data, opts)
	if err != nil {
		return nil, err
	}

	if err := c.repo.Put(ctx, key, opts.Language, result); err != nil {
		c.logger.Warn("project cache write failed", "key", key, "error", err)
		return result, nil
	}
	if n, err := c.repo.Prune(ctx, c.maxEntries); err != nil {
		c.logger.Warn("project cache prune failed", "error", err)
	} else if n > 0 {
		c.logger.Debug("project cache pruned", "removed", n)
	}
	return result, nil
}
