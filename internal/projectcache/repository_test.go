package projectcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport"
	"github.com/nerrad567/gray-logic-knxproj/internal/commissioning/etsimport/etstest"
	"github.com/nerrad567/gray-logic-knxproj/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-knxproj/migrations"
)

// setupTestRepo opens a migrated in-memory cache with a controllable clock.
func setupTestRepo(t *testing.T) (*SQLiteRepository, *time.Time) {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	repo, err := NewSQLiteRepository(db.DB)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(repo.Close)

	clock := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }
	return repo, &clock
}

func parseStandard(t *testing.T) *etsimport.ParseResult {
	t.Helper()
	data := etstest.Standard().Build(t)
	result, err := etsimport.NewParser().ParseBytes(context.Background(), data, etsimport.Options{})
	if err != nil {
		t.Fatalf("ParseBytes() error = %v", err)
	}
	return result
}

func TestKey(t *testing.T) {
	base := Key("abc", "", "")
	tests := []struct {
		name                     string
		hash, password, language string
	}{
		{name: "different content", hash: "abd"},
		{name: "password", hash: "abc", password: "secret"},
		{name: "language", hash: "abc", language: "de-DE"},
		{name: "field boundary", hash: "ab", password: "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.hash, tt.password, tt.language); got == base {
				t.Errorf("Key(%q, %q, %q) collides with Key(\"abc\", \"\", \"\")", tt.hash, tt.password, tt.language)
			}
		})
	}
	if Key("abc", "", "") != base {
		t.Error("Key() is not deterministic")
	}
}

func TestKeyDerivesPassword(t *testing.T) {
	plain := func(parts ...string) string {
		h := sha256.New()
		for _, part := range parts {
			h.Write([]byte(part))
			h.Write([]byte{0})
		}
		return hex.EncodeToString(h.Sum(nil))
	}

	tests := []struct {
		password string
		want     string
	}{
		{"", plain("abc", "", "de-DE")},
		{"secret", plain("abc", etsimport.DerivePassword("secret"), "de-DE")},
	}
	for _, tt := range tests {
		if got := Key("abc", tt.password, "de-DE"); got != tt.want {
			t.Errorf("Key(abc, %q, de-DE) = %q, want %q", tt.password, got, tt.want)
		}
	}
	if Key("abc", "secret", "de-DE") == plain("abc", "secret", "de-DE") {
		t.Error("Key() hashes the raw password")
	}
}

func TestGetMissing(t *testing.T) {
	repo, _ := setupTestRepo(t)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestPutGet(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()
	result := parseStandard(t)

	key := Key(result.ContentHash, "", "")
	if err := repo.Put(ctx, key, "", result); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ContentHash != result.ContentHash {
		t.Errorf("ContentHash = %q, want %q", got.ContentHash, result.ContentHash)
	}
	if got.Project.Info() != result.Project.Info() {
		t.Errorf("Info() = %+v, want %+v", got.Project.Info(), result.Project.Info())
	}
	if len(got.Project.Devices()) != len(result.Project.Devices()) {
		t.Errorf("len(Devices()) = %d, want %d", len(got.Project.Devices()), len(result.Project.Devices()))
	}
	co, ok := got.Project.CommunicationObject("1.1.5/" + etstest.SwitchRef)
	if !ok {
		t.Fatal("cached project lost communication object 1.1.5/" + etstest.SwitchRef)
	}
	if len(co.GroupAddressLinks) != 1 || co.GroupAddressLinks[0] != "6/0/1" {
		t.Errorf("GroupAddressLinks = %v, want [6/0/1]", co.GroupAddressLinks)
	}
}

func TestPutReplaces(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()
	result := parseStandard(t)

	for range 2 {
		if err := repo.Put(ctx, "k", "", result); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	entries, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(List()) = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.ProjectID != result.Project.Info().ProjectID {
		t.Errorf("ProjectID = %q, want %q", e.ProjectID, result.Project.Info().ProjectID)
	}
	if e.ContentHash != result.ContentHash {
		t.Errorf("ContentHash = %q, want %q", e.ContentHash, result.ContentHash)
	}
	if e.SizeBytes <= 0 {
		t.Errorf("SizeBytes = %d, want > 0", e.SizeBytes)
	}
}

func TestGetCorruptPayload(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()
	result := parseStandard(t)

	if err := repo.Put(ctx, "k", "", result); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := repo.db.ExecContext(ctx, `UPDATE project_cache SET payload = X'00010203'`); err != nil {
		t.Fatalf("corrupting payload: %v", err)
	}

	_, err := repo.Get(ctx, "k")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want decode error", err)
	}
}

func TestPrune(t *testing.T) {
	repo, clock := setupTestRepo(t)
	ctx := context.Background()
	result := parseStandard(t)

	for _, key := range []string{"a", "b", "c"} {
		*clock = clock.Add(time.Second)
		if err := repo.Put(ctx, key, "", result); err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
	}

	// Reading "a" makes it the most recently used entry.
	*clock = clock.Add(time.Second)
	if _, err := repo.Get(ctx, "a"); err != nil {
		t.Fatalf("Get(a) error = %v", err)
	}

	removed, err := repo.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() removed %d, want 1", removed)
	}

	entries, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var keys []string
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("remaining keys = %v, want [a c]", keys)
	}
	if !entries[0].AccessedAt.Equal(*clock) {
		t.Errorf("AccessedAt = %v, want %v", entries[0].AccessedAt, *clock)
	}

	if removed, err := repo.Prune(ctx, 0); err != nil || removed != 0 {
		t.Errorf("Prune(0) = %d, %v, want 0, nil", removed, err)
	}
}
