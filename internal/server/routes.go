package server

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Liveness.
	mux.HandleFunc("GET /{$}", s.handleRoot)

	// Saves.
	mux.HandleFunc("GET /saves/{game_id}/meta", s.handleGetMeta)
	mux.HandleFunc("GET /saves/{game_id}/file", s.handleGetFile)
	mux.HandleFunc("PUT /saves/{game_id}", s.handleUpload)
	mux.HandleFunc("PUT /saves/{game_id}/file", s.handleUpload)

	var handler http.Handler = mux
	handler = middleware.Recoverer(handler)
	handler = s.withRequestLogging(handler)
	handler = middleware.RequestID(handler)
	return handler
}
