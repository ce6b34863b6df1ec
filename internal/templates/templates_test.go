package templates

import (
	"errors"
	"html/template"
	"net/http/httptest"
	"strings"
	"testing"
)

func setupTemplates(t *testing.T) *Templates {
	t.Helper()
	tmpl, err := LoadTemplates()
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}
	return tmpl
}

// assertBody fails unless every want is present and no miss is
func assertBody(t *testing.T, rec *httptest.ResponseRecorder, want, miss []string) {
	t.Helper()
	body := rec.Body.String()
	for _, s := range want {
		if !strings.Contains(body, s) {
			t.Errorf("body missing %q\ngot: %s", s, body)
		}
	}
	for _, s := range miss {
		if strings.Contains(body, s) {
			t.Errorf("body unexpectedly contains %q", s)
		}
	}
}

func TestLoadTemplatesDefinesPages(t *testing.T) {
	tmpl := setupTemplates(t)

	pages := map[string]*template.Template{
		"verify":   tmpl.verify,
		"complete": tmpl.complete,
		"error":    tmpl.error,
	}
	for name, page := range pages {
		if page == nil {
			t.Errorf("%s page not parsed", name)
			continue
		}
		if page.Lookup("layout") == nil {
			t.Errorf("%s page has no layout", name)
		}
	}
}

func TestTemplateErrorWrapsCause(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := error(&TemplateError{Message: "failed to write response", Cause: cause})

	if got, want := err.Error(), "template error: failed to write response: unexpected EOF"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find the cause")
	}
}
