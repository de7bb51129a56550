package server

import (
	"net/http"
	"strings"
	"tuy-site/search"
)

const maxQueryLength = 200

func (s *Server) query(r *http.Request) string {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) > maxQueryLength {
		q = q[:maxQueryLength]
	}
	return q
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := s.query(r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	s.render(w, "search.tmpl", pageData{
		Query:   q,
		Results: s.search.Search(q, search.DefaultLimit),
	})
}

func (s *Server) handleSearchAPI(w http.ResponseWriter, r *http.Request) {
	q := s.query(r)
	results := s.search.Search(q, search.DefaultLimit)
	if results == nil {
		results = []search.Result{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"results": results,
	})
}
