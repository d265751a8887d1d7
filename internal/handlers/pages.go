package handlers

import (
	"net/http"
	"os"
	"path/filepath"
)

const fallbackShell = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>AgentDeck</title></head>
<body><div id="root"></div><noscript>AgentDeck needs JavaScript.</noscript></body>
</html>`

// Page serves the single page app shell for every UI route. The client
// router takes it from there.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if h.StaticDir != "" {
		index := filepath.Join(h.StaticDir, "index.html")
		if _, err := os.Stat(index); err == nil {
			http.ServeFile(w, r, index)
			return
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(fallbackShell))
}
