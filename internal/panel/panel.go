package panel

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed web/*
var content embed.FS

// Assets returns the panel files: dir when it names an existing
// directory, so the page can be edited without rebuilding, and the
// embedded copy otherwise.
func Assets(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	web, err := fs.Sub(content, "web")
	if err != nil {
		// only on a broken build
		panic("panel: embedded web assets missing: " + err.Error())
	}
	return web
}

// Handler serves the panel from Assets(dir). Paths without an extension
// are page routes and get index.html; a missing asset is a 404.
func Handler(dir string) http.Handler {
	assets := Assets(dir)
	files := http.FileServerFS(assets)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the panel is tiny and must follow daemon upgrades
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := path.Clean("/" + r.URL.Path)
		if name == "/" || path.Ext(name) == "" {
			http.ServeFileFS(w, r, assets, "index.html")
			return
		}
		if _, err := fs.Stat(assets, name[1:]); err != nil {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
