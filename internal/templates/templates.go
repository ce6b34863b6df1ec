// Package templates renders the approval pages served at /device
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
)

//go:embed html/*.html
var content embed.FS

// TemplateError reports a page that could not be rendered
type TemplateError struct {
	Message string
	Cause   error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error: %s: %v", e.Message, e.Cause)
}

func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// Templates manages the HTML templates
type Templates struct {
	verify   *template.Template
	complete *template.Template
	error    *template.Template
}

// LoadTemplates loads and parses all HTML templates
func LoadTemplates() (*Templates, error) {
	t := &Templates{}
	var err error

	if t.verify, err = template.ParseFS(content, "html/verify.html", "html/layout.html"); err != nil {
		return nil, err
	}
	if t.complete, err = template.ParseFS(content, "html/complete.html", "html/layout.html"); err != nil {
		return nil, err
	}
	if t.error, err = template.ParseFS(content, "html/error.html", "html/layout.html"); err != nil {
		return nil, err
	}

	return t, nil
}

// VerifyData holds data for the approval page. With an empty ClientID the page
// shows the code entry form; otherwise it shows the pending request with
// approve and deny buttons.
type VerifyData struct {
	UserCode       string
	ClientID       string
	Scope          string
	ExpiresMinutes int
	UserID         string
	CSRFToken      string
	Error          string
}

// RenderVerify renders the approval page
func (t *Templates) RenderVerify(w http.ResponseWriter, data VerifyData) error {
	status := http.StatusOK
	if data.Error != "" {
		status = http.StatusBadRequest
	}
	return t.render(w, t.verify, status, data)
}

// CompleteData holds data for the result page
type CompleteData struct {
	Approved bool
	Message  string
}

// RenderComplete renders the page shown after a request is approved or denied
func (t *Templates) RenderComplete(w http.ResponseWriter, data CompleteData) error {
	return t.render(w, t.complete, http.StatusOK, data)
}

// ErrorData holds data for the error page
type ErrorData struct {
	Title   string
	Message string
	Status  int // Defaults to 400
}

// RenderError renders the error page
func (t *Templates) RenderError(w http.ResponseWriter, data ErrorData) error {
	status := data.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	return t.render(w, t.error, status, data)
}

// render executes tmpl into a buffer first so a failing template never
// leaves a half written page behind
func (t *Templates) render(w http.ResponseWriter, tmpl *template.Template, status int, data interface{}) error {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return &TemplateError{Message: "failed to render template", Cause: err}
	}

	sw := t.NewSafeWriter(w)
	sw.SetStatusCode(status)
	if _, err := buf.WriteTo(sw); err != nil {
		return &TemplateError{Message: "failed to write response", Cause: err}
	}
	return nil
}

// RenderToString renders a template to a string
func (t *Templates) RenderToString(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", &TemplateError{Message: "failed to render template", Cause: err}
	}
	return buf.String(), nil
}
