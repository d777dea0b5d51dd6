package server

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFiles embed.FS

// pageTemplates holds the auxiliary pages, parsed once at package init.
var pageTemplates = template.Must(template.ParseFS(templateFiles, "templates/*.html"))
