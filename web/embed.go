// Package web embeds the browser canvas served by policycanvas-d.
package web

import (
	"embed"
	"io/fs"
)

//go:embed dist
var content embed.FS

// Assets returns the canvas page and its static files rooted at dist/.
func Assets() (fs.FS, error) {
	return fs.Sub(content, "dist")
}
