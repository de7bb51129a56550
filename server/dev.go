package server

import (
	"net/http"
	"tuy-site/clientip"
	"tuy-site/devgate"
	"tuy-site/feedview"
)

type devLoginData struct {
	Message  string
	Redirect string
}

type devHomeData struct {
	Error   string
	State   feedview.State
	Cleared bool
}

func (s *Server) handleDevLogin(w http.ResponseWriter, r *http.Request) {
	redirect := devgate.SafeRedirect(r.URL.Query().Get("redirect"))
	if s.gate.Authenticated(r) {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Robots-Tag", "noindex, nofollow")
	s.render(w, "login.tmpl", devLoginData{
		Message:  devgate.LoginMessage(r.URL.Query()),
		Redirect: redirect,
	})
}

func (s *Server) handleDevVerify(w http.ResponseWriter, r *http.Request) {
	ip := clientip.FromRequest(r)
	if !s.loginLimiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
		http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		return
	}
	s.gate.HandleVerify(w, r)
}

func (s *Server) handleDevHome(w http.ResponseWriter, r *http.Request) {
	state := s.feed.Load(r.Context(), false)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Robots-Tag", "noindex, nofollow")
	s.render(w, "dev.tmpl", devHomeData{
		State:   state,
		Error:   state.ErrorMessage(),
		Cleared: r.URL.Query().Get("cleared") == "1",
	})
}

func (s *Server) handleDevClearCache(w http.ResponseWriter, r *http.Request) {
	s.cache.ClearCache(r.Context())
	s.logger.Info("Cache cleared from dev area", "ip", clientip.FromRequest(r))
	http.Redirect(w, r, devgate.HomePath+"?cleared=1", http.StatusSeeOther)
}
