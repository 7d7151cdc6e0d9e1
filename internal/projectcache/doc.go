// Package projectcache stores parsed ETS projects in SQLite so that an
// identical upload is answered without re-parsing.
//
// Entries are keyed by Key(content hash, password, language) and hold the
// zstd-compressed JSON of the etsimport.ParseResult. Decoding a payload
// re-validates the model, so a corrupted row surfaces as a read error and
// the project is parsed again.
//
// Usage:
//
//	db, _ := database.Open(database.Config{Path: cfg.Cache.Path, WALMode: true})
//	_ = db.Migrate(ctx, migrations.FS)
//	repo, _ := projectcache.NewSQLiteRepository(db.DB)
//	parser := projectcache.NewCachingParser(etsimport.NewParser(), repo, cfg.Cache.MaxEntries)
package projectcache
