package main

import (
	"net/http"

	"github.com/angeloszaimis/dev-proxy/internal/router"
)

// setupHandler puts the proxy in front of the host server's own handling:
// a file server rooted at staticDir, or 404 when there is none.
func setupHandler(rt *router.Router, staticDir string) http.Handler {
	var fallback http.Handler = http.NotFoundHandler()
	if staticDir != "" {
		fallback = http.FileServer(http.Dir(staticDir))
	}

	return rt.Handler(fallback)
}
