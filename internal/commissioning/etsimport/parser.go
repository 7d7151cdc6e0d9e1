package etsimport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options controls a single parse.
type Options struct {
	// Password decrypts a protected project. Empty for none.
	Password string

	// Language selects a translation table, e.g. "de-DE". Empty skips the
	// translation overlay.
	Language string
}

// ParseResult contains the complete result of parsing an ETS project file.
type ParseResult struct {
	Project *Project `json:"project"`

	// Warnings contains non-fatal issues encountered during parsing.
	Warnings []ParseWarning `json:"warnings"`

	// ContentHash is the hex SHA-256 of the archive bytes.
	ContentHash string `json:"content_hash"`
}

// Logger is the logging interface used by the parser.
// Compatible with *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Parser turns .knxproj archives into Project models. A Parser is safe
// for concurrent use once configured.
type Parser struct {
	logger Logger
}

// NewParser creates a new ETS parser.
func NewParser() *Parser {
	return &Parser{logger: noopLogger{}}
}

// SetLogger sets the logger for parse diagnostics.
// Must be called before the first parse.
func (p *Parser) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// ParseFile reads and parses the archive at path.
func (p *Parser) ParseFile(ctx context.Context, path string, opts Options) (*ParseResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading project file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading project file: %w", err)
	}
	return p.ParseBytes(ctx, data, opts)
}

// ParseBytes parses an ETS project from a byte slice.
//
// Pipeline: load archive, detect generation, then catalog, topology,
// group addresses and translation tables concurrently; link, overlay
// translations and assemble. The first builder failure cancels the rest.
func (p *Parser) ParseBytes(ctx context.Context, data []byte, opts Options) (*ParseResult, error) {
	started := time.Now()
	hash := ContentHash(data)

	archive, err := LoadArchive(data, opts.Password)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("archive loaded",
		"project_id", archive.ProjectID,
		"protected", archive.Protected,
		"documents", len(archive.Names()),
	)

	schema, err := DetectGeneration(archive)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("schema detected", "generation", schema.Generation.String(), "version", schema.Version)

	info, style, err := ParseProjectInfo(archive, schema)
	if err != nil {
		return nil, err
	}

	var (
		catalog      *Catalog
		topology     *TopologyResult
		groups       *GroupAddressResult
		translations *Translations

		catalogWarnings, topologyWarnings, groupWarnings []ParseWarning
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		catalog, catalogWarnings, err = ResolveCatalog(gctx, archive, schema)
		return err
	})
	g.Go(func() error {
		var err error
		topology, topologyWarnings, err = BuildTopology(gctx, archive, schema)
		return err
	})
	g.Go(func() error {
		var err error
		groups, groupWarnings, err = BuildGroupAddresses(gctx, archive, schema, style)
		return err
	})
	if opts.Language != "" {
		g.Go(func() error {
			var err error
			translations, err = CollectTranslations(gctx, archive)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Deterministic warning order regardless of which builder finished first.
	var warnings []ParseWarning
	warnings = append(warnings, catalogWarnings...)
	warnings = append(warnings, topologyWarnings...)
	warnings = append(warnings, groupWarnings...)

	link, linkWarnings, err := Link(topology, catalog, groups)
	warnings = append(warnings, linkWarnings...)
	if err != nil {
		return nil, err
	}

	if opts.Language != "" {
		info.LanguageCode = Overlay(translations, opts.Language, link)
		if info.LanguageCode == "" {
			warnings = append(warnings, ParseWarning{
				Code:    WarnLanguageNotFound,
				Message: fmt.Sprintf("no translations for %q, available: %v", opts.Language, translations.Languages()),
			})
		}
	}

	project, assembleWarnings, err := Assemble(info, topology, groups, link)
	warnings = append(warnings, assembleWarnings...)
	if err != nil {
		return nil, err
	}

	for _, w := range warnings {
		p.logger.Warn("parse warning", "code", w.Code, "message", w.Message)
	}
	p.logger.Info("project parsed",
		"project", info.Name,
		"generation", info.ETSGeneration,
		"devices", len(project.devices),
		"communication_objects", len(project.objects),
		"group_addresses", len(project.addresses),
		"warnings", len(warnings),
		"duration", time.Since(started),
	)

	if warnings == nil {
		warnings = []ParseWarning{}
	}
	return &ParseResult{Project: project, Warnings: warnings, ContentHash: hash}, nil
}

// ContentHash returns the hex SHA-256 used as ParseResult.ContentHash.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
