package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
	"tuy-site/devgate"
	"tuy-site/feedview"
	"tuy-site/pkg/feed"
	"tuy-site/poll"
	"tuy-site/search"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword = "preview-password"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

type fakeFeed struct {
	state feedview.State
	mu    sync.Mutex
	loads []bool
}

func (f *fakeFeed) Load(_ context.Context, hardReload bool) feedview.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, hardReload)
	return f.state
}

type fakeCache struct{ cleared int }

func (c *fakeCache) ClearCache(context.Context) { c.cleared++ }

type fakeWarmer struct {
	res poll.Result
	err error
}

func (w *fakeWarmer) Warm(context.Context) (poll.Result, error) { return w.res, w.err }

type testServer struct {
	*Server
	feed   *fakeFeed
	cache  *fakeCache
	warmer *fakeWarmer
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var samplePosts = []feed.DisplayPost{
	{ID: "1", Date: "2026-01-20T08:00:00+0000", Title: "Hello", Excerpt: "World", PostURL: "https://www.facebook.com/1", ImageURL: "https://scontent.example/1.jpg"},
	{ID: "2", Date: "2026-01-19T08:00:00+0000", Title: "Road <closure>", Excerpt: "Detour via Main St.", PostURL: "https://www.facebook.com/2"},
}

func newTestServer(t *testing.T, withGate bool) *testServer {
	t.Helper()
	ts := &testServer{
		feed:   &fakeFeed{state: feedview.State{Posts: samplePosts}},
		cache:  &fakeCache{},
		warmer: &fakeWarmer{res: poll.Result{Posts: 2}},
	}
	cfg := &Config{
		Feed:   ts.feed,
		Cache:  ts.cache,
		Warmer: ts.warmer,
		Search: search.Default(),
		Logger: discardLogger(),
	}
	if withGate {
		hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
		if err != nil {
			t.Fatal(err)
		}
		gate, err := devgate.New(string(hash), testSecret, false, discardLogger())
		if err != nil {
			t.Fatal(err)
		}
		cfg.Gate = gate
	}
	ts.Server = New(cfg)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func parseHTML(t *testing.T, rec *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	if err != nil {
		t.Fatalf("parse HTML: %v", err)
	}
	return doc
}

func TestHome(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	doc := parseHTML(t, rec)

	articles := doc.Find("article.post")
	if articles.Length() != 2 {
		t.Fatalf("rendered %d posts, want 2", articles.Length())
	}
	first := articles.First()
	if got := first.Find(".post-title").Text(); got != "Hello" {
		t.Errorf("first title = %q", got)
	}
	if src, _ := first.Find("img").Attr("src"); src != "https://scontent.example/1.jpg" {
		t.Errorf("first image = %q", src)
	}
	if got := first.Find("time").Text(); !strings.HasPrefix(got, "Jan 20, 2026") {
		t.Errorf("first date = %q", got)
	}
	if title, _ := first.Find("time").Attr("title"); title != "January 20, 2026" {
		t.Errorf("long date = %q", title)
	}
	second := articles.Eq(1)
	if second.Find("img").Length() != 0 {
		t.Error("post without image rendered an <img>")
	}
	if got := second.Find(".post-title").Text(); got != "Road <closure>" {
		t.Errorf("escaped title = %q", got)
	}
	if doc.Find("#feed-error").Length() != 0 {
		t.Error("error notice shown without an error")
	}
}

func TestHomeShowsFallbackNotice(t *testing.T) {
	ts := newTestServer(t, false)
	ts.feed.state = feedview.State{Posts: feed.FallbackPosts()[:4], Err: errors.New("network down")}

	doc := parseHTML(t, ts.do(httptest.NewRequest(http.MethodGet, "/", nil)))

	if doc.Find("#feed-error").Length() != 1 {
		t.Error("fallback notice missing")
	}
	if strings.Contains(doc.Text(), "network down") {
		t.Error("internal error text leaked into the page")
	}
	if n := doc.Find("article.post").Length(); n != 4 {
		t.Errorf("rendered %d posts, want 4", n)
	}
}

func TestPostsAPI(t *testing.T) {
	tests := []struct {
		name      string
		state     feedview.State
		wantError any
		wantPosts int
	}{
		{"ok", feedview.State{Posts: samplePosts}, nil, 2},
		{"empty", feedview.State{Posts: feed.FallbackPosts(), Err: feedview.ErrNoPosts}, "no posts returned from API", 4},
		{"nil posts", feedview.State{}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, false)
			ts.feed.state = tt.state
			rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/posts", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var body map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["loading"] != false {
				t.Errorf("loading = %v", body["loading"])
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %v, want %v", body["error"], tt.wantError)
			}
			posts, ok := body["posts"].([]any)
			if !ok || len(posts) != tt.wantPosts {
				t.Errorf("posts = %v, want %d entries", body["posts"], tt.wantPosts)
			}
		})
	}
}

func TestPostsAPIFieldNames(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/posts", nil))
	body := rec.Body.String()
	for _, field := range []string{`"postUrl"`, `"imageUrl"`, `"excerpt"`, `"date"`} {
		if !strings.Contains(body, field) {
			t.Errorf("response missing %s: %s", field, body)
		}
	}
}

func TestHardReloadForcesRefresh(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   bool
	}{
		{"normal load", http.Header{}, false},
		{"cache-control", http.Header{"Cache-Control": {"no-cache"}}, true},
		{"cache-control list", http.Header{"Cache-Control": {"max-age=0, No-Cache"}}, true},
		{"max-age only", http.Header{"Cache-Control": {"max-age=0"}}, false},
		{"pragma", http.Header{"Pragma": {"no-cache"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header = tt.header
			if got := IsHardReload(req); got != tt.want {
				t.Errorf("IsHardReload() = %v, want %v", got, tt.want)
			}

			ts := newTestServer(t, false)
			ts.do(req)
			if len(ts.feed.loads) != 1 || ts.feed.loads[0] != tt.want {
				t.Errorf("Load hardReload = %v, want [%v]", ts.feed.loads, tt.want)
			}
		})
	}
}

func TestForcedRefreshIsRateLimited(t *testing.T) {
	ts := newTestServer(t, false)
	for range 7 {
		req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		ts.do(req)
	}

	forced := 0
	for _, f := range ts.feed.loads {
		if f {
			forced++
		}
	}
	if forced != 5 || len(ts.feed.loads) != 7 {
		t.Errorf("forced %d of %d loads, want 5 of 7", forced, len(ts.feed.loads))
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Hour)
	rl.now = func() time.Time { return now }

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("first two requests refused")
	}
	if rl.allow("a") {
		t.Error("third request allowed")
	}
	if !rl.allow("b") {
		t.Error("other key refused")
	}
	now = now.Add(time.Hour + time.Second)
	if !rl.allow("a") {
		t.Error("request after window refused")
	}
}

func TestForcedRefreshIgnoresClientSuppliedHops(t *testing.T) {
	ts := newTestServer(t, false)
	for i := range 50 {
		req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d, 198.51.100.7", i))
		ts.do(req)
	}

	forced := 0
	for _, f := range ts.feed.loads {
		if f {
			forced++
		}
	}
	if forced != 5 {
		t.Errorf("forced %d of %d loads with rotating first hops, want 5", forced, len(ts.feed.loads))
	}
	if n := len(ts.refreshLimiter.clients); n != 1 {
		t.Errorf("limiter tracks %d clients, want 1", n)
	}
}

func TestDevVerifyIgnoresClientSuppliedHops(t *testing.T) {
	ts := newTestServer(t, true)
	var last int
	for i := range 21 {
		form := url.Values{"password": {"wrong"}}
		req := httptest.NewRequest(http.MethodPost, "/dev/verify", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		req.Header.Add("X-Forwarded-For", "198.51.100.7")
		last = ts.do(req).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("21st login attempt status = %d, want 429", last)
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(5, time.Hour)
	rl.now = func() time.Time { return now }

	for i := range 100 {
		rl.allow(fmt.Sprintf("192.0.2.%d", i))
	}
	if n := len(rl.clients); n != 100 {
		t.Fatalf("tracked %d clients, want 100", n)
	}

	now = now.Add(time.Hour + time.Minute)
	rl.allow("198.51.100.7")
	if n := len(rl.clients); n != 1 {
		t.Errorf("tracked %d clients after the window passed, want 1", n)
	}
}

func TestSearchPage(t *testing.T) {
	ts := newTestServer(t, false)
	doc := parseHTML(t, ts.do(httptest.NewRequest(http.MethodGet, "/search?q=ordinances", nil)))

	results := doc.Find("li.result")
	if results.Length() != 1 {
		t.Fatalf("found %d results, want 1", results.Length())
	}
	if href, _ := results.Find("a").Attr("href"); href != "/downloadables/ordinances" {
		t.Errorf("href = %q", href)
	}

	doc = parseHTML(t, ts.do(httptest.NewRequest(http.MethodGet, "/search?q=zzzz", nil)))
	if doc.Find("#no-results").Length() != 1 {
		t.Error("no-results message missing")
	}
}

func TestSearchAPI(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/search?q=mayor", nil))

	var body struct {
		Query   string `json:"query"`
		Results []struct {
			Title string `json:"title"`
			Path  string `json:"path"`
		} `json:"results"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Query != "mayor" || len(body.Results) != 1 || body.Results[0].Path != "/government/officials" {
		t.Errorf("body = %+v", body)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/search", nil))
	if !strings.Contains(rec.Body.String(), `"results":[]`) {
		t.Errorf("empty query body = %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestPoll(t *testing.T) {
	ts := newTestServer(t, false)

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/pollz", nil)); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /pollz status = %d, want 405", rec.Code)
	}

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/pollz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"completed"`) {
		t.Errorf("POST /pollz = %d %s", rec.Code, rec.Body.String())
	}

	ts.warmer.err = errors.New("graph down")
	if rec := ts.do(httptest.NewRequest(http.MethodPost, "/pollz", nil)); rec.Code != http.StatusInternalServerError {
		t.Errorf("failed warm-up status = %d, want 500", rec.Code)
	}
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDevRoutesDisabledWithoutGate(t *testing.T) {
	ts := newTestServer(t, false)
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/dev/login", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// session carries cookies between requests like a browser.
type session struct {
	ts      *testServer
	cookies []*http.Cookie
}

func (s *session) do(req *http.Request) *httptest.ResponseRecorder {
	for _, c := range s.cookies {
		req.AddCookie(c)
	}
	rec := s.ts.do(req)
	if set := rec.Result().Cookies(); len(set) > 0 {
		s.cookies = set
	}
	return rec
}

func (s *session) login(password string) *httptest.ResponseRecorder {
	form := url.Values{"password": {password}, "redirect": {"/dev/"}}
	req := httptest.NewRequest(http.MethodPost, "/dev/verify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func TestDevGateFlow(t *testing.T) {
	ts := newTestServer(t, true)
	s := &session{ts: ts}

	rec := s.do(httptest.NewRequest(http.MethodGet, "/dev/", nil))
	if rec.Code != http.StatusFound || !strings.HasPrefix(rec.Header().Get("Location"), "/dev/login?redirect=") {
		t.Fatalf("unauthenticated /dev/ = %d %s", rec.Code, rec.Header().Get("Location"))
	}

	rec = s.login("wrong")
	loc := rec.Header().Get("Location")
	rec = s.do(httptest.NewRequest(http.MethodGet, loc, nil))
	doc := parseHTML(t, rec)
	if got := doc.Find(".error-message").Text(); got != "Incorrect password. Please try again." {
		t.Errorf("login message = %q", got)
	}
	if v, _ := doc.Find(`input[name="redirect"]`).Attr("value"); v != "/dev/" {
		t.Errorf("redirect field = %q", v)
	}

	rec = s.login(testPassword)
	if rec.Header().Get("Location") != "/dev/" {
		t.Fatalf("login redirect = %q", rec.Header().Get("Location"))
	}

	rec = s.do(httptest.NewRequest(http.MethodGet, "/dev/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated /dev/ = %d", rec.Code)
	}
	doc = parseHTML(t, rec)
	if got := doc.Find("#post-count").Text(); got != "2" {
		t.Errorf("post count = %q", got)
	}

	rec = s.do(httptest.NewRequest(http.MethodPost, "/dev/cache/clear", nil))
	if rec.Code != http.StatusSeeOther || ts.cache.cleared != 1 {
		t.Errorf("clear cache = %d, cleared %d times", rec.Code, ts.cache.cleared)
	}

	// Logged-in visitors skip the login form.
	rec = s.do(httptest.NewRequest(http.MethodGet, "/dev/login?redirect=/dev/", nil))
	if rec.Code != http.StatusFound {
		t.Errorf("login page while authenticated = %d, want 302", rec.Code)
	}

	s.do(httptest.NewRequest(http.MethodGet, "/dev/logout", nil))
	rec = s.do(httptest.NewRequest(http.MethodGet, "/dev/", nil))
	if rec.Code != http.StatusFound {
		t.Errorf("/dev/ after logout = %d, want 302", rec.Code)
	}
}

func TestDevClearCacheRequiresLogin(t *testing.T) {
	ts := newTestServer(t, true)
	rec := ts.do(httptest.NewRequest(http.MethodPost, "/dev/cache/clear", nil))
	if rec.Code != http.StatusFound || ts.cache.cleared != 0 {
		t.Errorf("anonymous clear = %d, cleared %d times", rec.Code, ts.cache.cleared)
	}
}

func TestDevVerifyRateLimited(t *testing.T) {
	ts := newTestServer(t, true)
	var last int
	for range 21 {
		s := &session{ts: ts}
		last = s.login("wrong").Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("21st login attempt status = %d, want 429", last)
	}
}

func TestFeedWaitFitsWriteTimeout(t *testing.T) {
	if feedview.DefaultWait >= writeTimeout {
		t.Errorf("feedview.DefaultWait = %v, want below the %v write timeout", feedview.DefaultWait, writeTimeout)
	}
}
