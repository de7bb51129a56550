package server

import (
	"net/http"
	"tuy-site/feedview"
	"tuy-site/pkg/feed"
)

// postsResponse mirrors the {posts, loading, error} state the page scripts read.
type postsResponse struct {
	Error   *string            `json:"error"`
	Posts   []feed.DisplayPost `json:"posts"`
	Loading bool               `json:"loading"`
}

func newPostsResponse(state feedview.State) postsResponse {
	resp := postsResponse{Posts: state.Posts, Loading: state.Loading}
	if resp.Posts == nil {
		resp.Posts = []feed.DisplayPost{}
	}
	if state.Err != nil {
		msg := state.Err.Error()
		resp.Error = &msg
	}
	return resp
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	state := s.feed.Load(r.Context(), s.forceRefresh(r))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	s.render(w, "home.tmpl", pageData{
		Posts:   state.Posts,
		Error:   state.ErrorMessage(),
		PageURL: feed.PageURL,
	})
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	state := s.feed.Load(r.Context(), s.forceRefresh(r))
	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, http.StatusOK, newPostsResponse(state))
}
