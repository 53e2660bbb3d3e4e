// Package web embeds the dashboard page served at "/".
package web

import "embed"

// FS holds index.html, app.js and style.css.
//
//go:embed *.html *.css *.js
var FS embed.FS
