package projectcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport"
)

// ErrNotFound is returned when no cached result exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// Entry describes one cached parse without its payload.
type Entry struct {
	Key         string    `json:"key"`
	ContentHash string    `json:"content_hash"`
	Language    string    `json:"language"`
	ProjectID   string    `json:"project_id"`
	ProjectName string    `json:"project_name"`
	SizeBytes   int       `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
}

// Repository defines the interface for parse cache persistence.
type Repository interface {
	Get(ctx context.Context, key string) (*etsimport.ParseResult, error)
	Put(ctx context.Context, key, language string, result *etsimport.ParseResult) error
	List(ctx context.Context) ([]Entry, error)
	Prune(ctx context.Context, maxEntries int) (int64, error)
}

// Key derives the cache key of a parse. The password takes part in the
// key so a result produced with one password is never served for another.
// Only its PBKDF2 derivation is hashed, so a stored key cannot be checked
// against candidate passwords any faster than the archive itself.
func Key(contentHash, password, language string) string {
	if password != "" {
		password = etsimport.DerivePassword(password)
	}
	h := sha256.New()
	for _, part := range []string{contentHash, password, language} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SQLiteRepository implements Repository on the project_cache table.
// Payloads are zstd-compressed JSON of the parse result.
type SQLiteRepository struct {
	db      *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	now     func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed cache repository.
func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &SQLiteRepository{
		db:      db,
		encoder: encoder,
		decoder: decoder,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the compression resources. The database is not closed.
func (r *SQLiteRepository) Close() {
	r.decoder.Close()
	r.encoder.Close() //nolint:errcheck // EncodeAll-only encoder has nothing to flush
}

// Get returns the cached result for key and records the access.
func (r *SQLiteRepository) Get(ctx context.Context, key string) (*etsimport.ParseResult, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM project_cache WHERE cache_key = ?`, key,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying cache entry %s: %w", key, err)
	}

	data, err := r.decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing cache entry %s: %w", key, err)
	}

	var result etsimport.ParseResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding cache entry %s: %w", key, err)
	}

	if _, err := r.db.ExecContext(ctx,
		`UPDATE project_cache SET accessed_at = ? WHERE cache_key = ?`,
		r.timestamp(), key,
	); err != nil {
		return nil, fmt.Errorf("touching cache entry %s: %w", key, err)
	}
	return &result, nil
}

// Put stores result under key, replacing any previous entry.
func (r *SQLiteRepository) Put(ctx context.Context, key, language string, result *etsimport.ParseResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding cache entry %s: %w", key, err)
	}
	payload := r.encoder.EncodeAll(data, nil)

	info := result.Project.Info()
	now := r.timestamp()
	const query = `INSERT INTO project_cache
		(cache_key, content_hash, language, project_id, project_name, payload, size_bytes, created_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = excluded.payload,
			size_bytes = excluded.size_bytes,
			project_id = excluded.project_id,
			project_name = excluded.project_name,
			accessed_at = excluded.accessed_at`
	if _, err := r.db.ExecContext(ctx, query,
		key, result.ContentHash, language, info.ProjectID, info.Name,
		payload, len(payload), now, now,
	); err != nil {
		return fmt.Errorf("inserting cache entry %s: %w", key, err)
	}
	return nil
}

// List returns all entries, most recently accessed first.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT cache_key, content_hash, language, project_id,
		project_name, size_bytes, created_at, accessed_at
		FROM project_cache ORDER BY accessed_at DESC, cache_key`)
	if err != nil {
		return nil, fmt.Errorf("querying cache entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created, accessed string
		if err := rows.Scan(&e.Key, &e.ContentHash, &e.Language, &e.ProjectID,
			&e.ProjectName, &e.SizeBytes, &created, &accessed); err != nil {
			return nil, fmt.Errorf("scanning cache entry: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)   //nolint:errcheck // Format is controlled
		e.AccessedAt, _ = time.Parse(time.RFC3339Nano, accessed) //nolint:errcheck // Format is controlled
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cache entries: %w", err)
	}
	return entries, nil
}

// Prune deletes the least recently accessed entries beyond maxEntries and
// returns how many were removed. maxEntries <= 0 keeps everything.
func (r *SQLiteRepository) Prune(ctx context.Context, maxEntries int) (int64, error) {
	if maxEntries <= 0 {
		return 0, nil
	}
	const query = `DELETE FROM project_cache WHERE cache_key NOT IN (
		SELECT cache_key FROM project_cache ORDER BY accessed_at DESC, cache_key LIMIT ?)`
	res, err := r.db.ExecContext(ctx, query, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	return n, nil
}

// timestamp is fixed-width so accessed_at sorts lexically.
func (r *SQLiteRepository) timestamp() string {
	return r.now().Format("2006-01-02T15:04:05.000000000Z07:00")
}
