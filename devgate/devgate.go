// Package devgate protects the /dev preview area with a shared password.
//
// A bcrypt hash of the password is configured; successful logins get a signed
// session cookie valid for 24 hours. Five wrong passwords lock the session out
// for 15 minutes.
package devgate

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"tuy-site/clientip"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

// Paths served by the gate.
const (
	HomePath   = "/dev/"
	LoginPath  = "/dev/login"
	VerifyPath = "/dev/verify"
	LogoutPath = "/dev/logout"
)

const (
	sessionName     = "tuy_dev_session"
	keyAuth         = "authenticated"
	keyLoginTime    = "login_time"
	keyFailed       = "failed_attempts"
	keyLockoutUntil = "lockout_until"

	// SessionMaxAge is how long a login lasts, in seconds.
	SessionMaxAge = 86400
	// MaxFailedAttempts wrong passwords trigger a lockout.
	MaxFailedAttempts = 5
	// LockoutDuration is how long a locked-out session must wait.
	LockoutDuration = 15 * time.Minute
	// MinSecretLength is the shortest accepted cookie signing secret.
	MinSecretLength = 32
)

var (
	// ErrShortSecret is returned by New for secrets under MinSecretLength bytes.
	ErrShortSecret = fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	// ErrInvalidHash is returned by New when the password hash is not a bcrypt hash.
	ErrInvalidHash = errors.New("password hash is not a bcrypt hash")
)

// Gate checks passwords and sessions.
type Gate struct {
	store  *sessions.CookieStore
	logger *slog.Logger
	now    func() time.Time
	hash   []byte
	secure bool
}

// New creates a gate. secure marks cookies HTTPS-only; disable it only for local development.
func New(passwordHash, secret string, secure bool, logger *slog.Logger) (*Gate, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrShortSecret
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}
	return &Gate{
		store:  sessions.NewCookieStore([]byte(secret)),
		logger: logger,
		now:    time.Now,
		hash:   []byte(passwordHash),
		secure: secure,
	}, nil
}

// WithClock replaces the gate's time source. Used by tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// HashPassword returns a bcrypt hash suitable for DEV_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (g *Gate) session(r *http.Request) *sessions.Session {
	s, err := g.store.Get(r, sessionName)
	if err != nil {
		// Tampered or stale cookies start over with a fresh session.
		g.logger.Debug("Discarding unreadable dev session", "error", err)
		s = sessions.NewSession(g.store, sessionName)
		s.IsNew = true
	}
	s.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   SessionMaxAge,
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	}
	return s
}

func int64Value(s *sessions.Session, key string) int64 {
	v, _ := s.Values[key].(int64)
	return v
}

func intValue(s *sessions.Session, key string) int {
	v, _ := s.Values[key].(int)
	return v
}

// Authenticated reports whether the request carries a live login.
func (g *Gate) Authenticated(r *http.Request) bool {
	s := g.session(r)
	if ok, _ := s.Values[keyAuth].(bool); !ok {
		return false
	}
	loginTime := time.Unix(int64Value(s, keyLoginTime), 0)
	return g.now().Sub(loginTime) < SessionMaxAge*time.Second
}

// Require redirects unauthenticated requests to the login page.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Authenticated(r) {
			http.Redirect(w, r, LoginPath+"?redirect="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SafeRedirect returns target when it points inside the preview area, and HomePath otherwise.
func SafeRedirect(target string) string {
	if strings.HasPrefix(target, "//") || strings.ContainsAny(target, "\\\r\n") {
		return HomePath
	}
	if target == "/dev" || strings.HasPrefix(target, "/dev/") || strings.HasPrefix(target, "/dev?") {
		return target
	}
	return HomePath
}

// LoginMessage returns the message the login page shows for its query parameters.
func LoginMessage(q url.Values) string {
	switch q.Get("error") {
	case "invalid":
		attempts, _ := strconv.Atoi(q.Get("attempts"))
		msg := "Incorrect password. Please try again."
		if attempts >= 3 {
			msg += fmt.Sprintf(" (%d attempts remaining)", MaxFailedAttempts-attempts)
		}
		return msg
	case "empty":
		return "Please enter a password."
	case "lockout":
		minutes, err := strconv.Atoi(q.Get("minutes"))
		if err != nil || minutes <= 0 {
			minutes = int(LockoutDuration.Minutes())
		}
		unit := "minute"
		if minutes > 1 {
			unit = "minutes"
		}
		return fmt.Sprintf("Too many failed attempts. Please try again in %d %s.", minutes, unit)
	default:
		return ""
	}
}

func loginURL(params url.Values) string {
	return LoginPath + "?" + params.Encode()
}

func (g *Gate) save(w http.ResponseWriter, r *http.Request, s *sessions.Session) {
	if err := s.Save(r, w); err != nil {
		g.logger.Error("Failed to save dev session", "error", err)
	}
}

// HandleVerify checks a submitted password and redirects to the target or back to the login page.
func (g *Gate) HandleVerify(w http.ResponseWriter, r *http.Request) {
	s := g.session(r)
	now := g.now()

	lockoutUntil := time.Unix(int64Value(s, keyLockoutUntil), 0)
	if now.Before(lockoutUntil) {
		minutes := int(math.Ceil(lockoutUntil.Sub(now).Minutes()))
		http.Redirect(w, r, loginURL(url.Values{"error": {"lockout"}, "minutes": {strconv.Itoa(minutes)}}), http.StatusFound)
		return
	}
	if int64Value(s, keyLockoutUntil) != 0 {
		// Lockout has expired.
		s.Values[keyFailed] = 0
		s.Values[keyLockoutUntil] = int64(0)
	}

	if r.Method != http.MethodPost {
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}

	password := strings.TrimSpace(r.PostFormValue("password"))
	redirect := SafeRedirect(r.PostFormValue("redirect"))

	if password == "" {
		g.save(w, r, s)
		http.Redirect(w, r, loginURL(url.Values{"error": {"empty"}, "redirect": {redirect}}), http.StatusFound)
		return
	}

	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(password)); err == nil {
		s.Values[keyFailed] = 0
		s.Values[keyLockoutUntil] = int64(0)
		s.Values[keyAuth] = true
		s.Values[keyLoginTime] = now.Unix()
		g.save(w, r, s)
		g.logger.Info("Dev login succeeded", "ip", clientip.FromRequest(r))
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}

	failed := intValue(s, keyFailed) + 1
	s.Values[keyFailed] = failed
	g.logger.Warn("Dev login failed", "ip", clientip.FromRequest(r), "failed_attempts", failed)

	if failed >= MaxFailedAttempts {
		s.Values[keyLockoutUntil] = now.Add(LockoutDuration).Unix()
		g.save(w, r, s)
		http.Redirect(w, r, loginURL(url.Values{
			"error":   {"lockout"},
			"minutes": {strconv.Itoa(int(LockoutDuration.Minutes()))},
		}), http.StatusFound)
		return
	}

	g.save(w, r, s)
	http.Redirect(w, r, loginURL(url.Values{
		"error":    {"invalid"},
		"redirect": {redirect},
		"attempts": {strconv.Itoa(failed)},
	}), http.StatusFound)
}

// HandleLogout ends the session and returns to the public site.
func (g *Gate) HandleLogout(w http.ResponseWriter, r *http.Request) {
	s := g.session(r)
	s.Values = map[any]any{}
	s.Options.MaxAge = -1
	g.save(w, r, s)
	http.Redirect(w, r, "/", http.StatusFound)
}
