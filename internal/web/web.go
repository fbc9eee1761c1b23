// Package web embeds the browser UI: camera preview, selfie polling, and the
// verification form.
package web

import (
	"embed"
)

//go:embed static
var staticFS embed.FS

// IndexHTML returns the UI page.
func IndexHTML() []byte {
	return mustRead("static/index.html")
}

// AppJS returns the UI controller script.
func AppJS() []byte {
	return mustRead("static/app.js")
}

func mustRead(name string) []byte {
	data, err := staticFS.ReadFile(name)
	if err != nil {
		// Embedded files are part of the binary; a miss is a build defect.
		panic("missing embedded asset: " + name)
	}
	return data
}
