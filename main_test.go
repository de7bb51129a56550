package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"tuy-site/config"
	"tuy-site/pkg/feed"
	"tuy-site/storage"

	"golang.org/x/crypto/bcrypt"
)

// run executes the CLI with args and returns what it wrote to stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

// clearEnv unsets every variable the service reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"FACEBOOK_PAGE_ID", "FACEBOOK_ACCESS_TOKEN", "FACEBOOK_POST_LIMIT", "FACEBOOK_CACHE_DURATION",
		"FACEBOOK_API_BASE_URL", "FACEBOOK_API_VERSION", "CACHE_BACKEND", "LOCAL_STORAGE",
		"CACHE_DB_PATH", "STORAGE_BUCKET", "GOOGLE_CREDENTIALS_JSON", "PORT",
		"DEV_PASSWORD_HASH", "DEV_SESSION_SECRET", "COOKIE_INSECURE", "LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "tuy-site dev (none)\n" {
		t.Errorf("version output = %q", out)
	}
}

func TestHashPasswordCmd(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"argument", "", []string{"hash-password", "s3cret-preview"}},
		{"stdin", "s3cret-preview\n", []string{"hash-password"}},
		{"stdin crlf", "s3cret-preview\r\nignored\n", []string{"hash-password"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.stdin, tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			hash := strings.TrimSpace(out)
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret-preview")); err != nil {
				t.Errorf("hash %q does not match password: %v", hash, err)
			}
		})
	}
}

func TestHashPasswordCmdRejectsEmpty(t *testing.T) {
	if _, err := run(t, "\n", "hash-password"); !errors.Is(err, errEmptyPassword) {
		t.Errorf("err = %v, want errEmptyPassword", err)
	}
	if _, err := run(t, "", "hash-password"); !errors.Is(err, errEmptyPassword) {
		t.Errorf("err = %v, want errEmptyPassword", err)
	}
}

func TestOverrides(t *testing.T) {
	clearEnv(t)

	cfg, err := overrides{backend: "Memory", port: "9090"}.load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StorageBackend() != config.BackendMemory || cfg.Port != "9090" {
		t.Errorf("backend = %q, port = %q", cfg.StorageBackend(), cfg.Port)
	}

	if _, err := (overrides{backend: "redis"}).load(); !errors.Is(err, config.ErrUnknownBackend) {
		t.Errorf("err = %v, want ErrUnknownBackend", err)
	}
	if _, err := (overrides{port: "70000"}).load(); !errors.Is(err, config.ErrInvalidPort) {
		t.Errorf("err = %v, want ErrInvalidPort", err)
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend string
		check   func(any) bool
	}{
		{config.BackendMemory, func(kv any) bool { _, ok := kv.(*storage.Memory); return ok }},
		{config.BackendLocal, func(kv any) bool { _, ok := kv.(*storage.Local); return ok }},
		{config.BackendSQLite, func(kv any) bool { _, ok := kv.(*storage.SQLite); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Backend = tt.backend
			cfg.LocalStorage = filepath.Join(dir, "local")
			cfg.CacheDBPath = filepath.Join(dir, "cache.db")

			a := &app{cfg: cfg, logger: newLogger(cfg.LogLevel, io.Discard)}
			kv, err := a.openStore(t.Context())
			if err != nil {
				t.Fatal(err)
			}
			defer a.close()
			if !tt.check(kv) {
				t.Errorf("openStore() returned %T", kv)
			}
			if err := kv.Set(t.Context(), "backend_check", "ok"); err != nil {
				t.Errorf("Set() error = %v", err)
			}
		})
	}
}

func TestFetchAndClearCacheCmds(t *testing.T) {
	var requests atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"id":"1","created_time":"2026-01-20T08:00:00+0000","message":"Hello\nWorld","permalink_url":"https://www.facebook.com/1"}]}`)
	}))
	defer api.Close()

	clearEnv(t)
	t.Setenv("FACEBOOK_PAGE_ID", "123")
	t.Setenv("FACEBOOK_ACCESS_TOKEN", "token")
	t.Setenv("FACEBOOK_API_BASE_URL", api.URL)
	t.Setenv("CACHE_BACKEND", "sqlite")
	t.Setenv("CACHE_DB_PATH", filepath.Join(t.TempDir(), "cache.db"))

	fetch := func(args ...string) []feed.DisplayPost {
		t.Helper()
		out, err := run(t, "", append([]string{"fetch"}, args...)...)
		if err != nil {
			t.Fatal(err)
		}
		var posts []feed.DisplayPost
		if err := json.Unmarshal([]byte(out), &posts); err != nil {
			t.Fatalf("decode %q: %v", out, err)
		}
		return posts
	}

	posts := fetch()
	if len(posts) != 1 || posts[0].Title != "Hello" || posts[0].Excerpt != "World" {
		t.Fatalf("posts = %+v", posts)
	}

	// The second process reads the SQLite cache.
	fetch()
	if n := requests.Load(); n != 1 {
		t.Errorf("requests after cached fetch = %d, want 1", n)
	}

	fetch("--force")
	if n := requests.Load(); n != 2 {
		t.Errorf("requests after forced fetch = %d, want 2", n)
	}

	out, err := run(t, "", "clear-cache")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Cache cleared\n" {
		t.Errorf("clear-cache output = %q", out)
	}
	fetch()
	if n := requests.Load(); n != 3 {
		t.Errorf("requests after clear-cache = %d, want 3", n)
	}
}

func TestFetchCmdReportsMissingCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_BACKEND", "memory")
	if _, err := run(t, "", "fetch"); err == nil {
		t.Error("fetch without credentials succeeded")
	}
}
