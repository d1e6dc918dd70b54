// Package handler contains HTTP request handlers for the agentcoder server.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Or more commonly, we use http.HandlerFunc, a function with the right signature
// that automatically satisfies the Handler interface. Chi's router accepts these directly.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (query params, body, headers)
// 2. Call the service layer
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers should NOT contain business logic; they are the "glue" between HTTP and your app.
package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
)

// PageOptions are the server settings the page needs to render itself.
type PageOptions struct {
	AuthEnabled    bool
	MaxRequirement int
}

// PlaygroundHandler serves the requirement page.
// It holds parsed templates so we don't re-parse them on every request.
type PlaygroundHandler struct {
	templates *template.Template
	opts      PageOptions
	logger    *slog.Logger
}

// NewPlaygroundHandler creates a new PlaygroundHandler and parses the HTML templates.
//
// TEMPLATE PARSING:
// We parse both "base.html" and "playground.html" together so they can reference each other:
//   - base.html defines the overall page structure with {{template "content" .}} placeholder
//   - playground.html defines {{define "content"}}...{{end}} to fill that placeholder
func NewPlaygroundHandler(templateDir string, opts PageOptions, logger *slog.Logger) (*PlaygroundHandler, error) {
	tmpl, err := template.ParseFiles(
		filepath.Join(templateDir, "base.html"),
		filepath.Join(templateDir, "playground.html"),
	)
	if err != nil {
		return nil, err
	}

	return &PlaygroundHandler{
		templates: tmpl,
		opts:      opts,
		logger:    logger,
	}, nil
}

// HandlePlayground serves the page with the requirement box. Everything
// after "Generate Code" happens in web/static/app.js against the run API.
func (h *PlaygroundHandler) HandlePlayground(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"Title":          "agentcoder: requirement to tested code",
		"AuthEnabled":    h.opts.AuthEnabled,
		"MaxRequirement": h.opts.MaxRequirement,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := h.templates.ExecuteTemplate(w, "base", data); err != nil {
		h.logger.Error("failed to render template",
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
