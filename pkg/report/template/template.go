// Package template renders subject reports with html/template.
package template

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
)

//go:embed report.tpl
var defaultTemplateContent string

// TemplateExecutor renders a parsed template with the given data.
//
// Implementations MUST fall back to the embedded default template when tmpl is nil.
type TemplateExecutor interface {
	Execute(writer io.Writer, tmpl *template.Template, data any) error
}

// HTMLTemplateExecutor implements TemplateExecutor using html/template.
type HTMLTemplateExecutor struct{}

// NewHTMLTemplateExecutor creates a new HTMLTemplateExecutor.
func NewHTMLTemplateExecutor() *HTMLTemplateExecutor {
	return &HTMLTemplateExecutor{}
}

// Execute runs tmpl, using the embedded default when tmpl is nil.
func (e *HTMLTemplateExecutor) Execute(writer io.Writer, tmpl *template.Template, data any) error {
	if tmpl == nil {
		defaultTmpl, err := LoadDefaultTemplate()
		if err != nil {
			return err
		}
		tmpl = defaultTmpl
	}
	if err := tmpl.Execute(writer, data); err != nil {
		return fmt.Errorf("template execution failed for %q: %w", tmpl.Name(), err)
	}
	return nil
}

var anchorUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// customTemplateFuncs are available to the default and custom templates.
var customTemplateFuncs = template.FuncMap{
	// safeHTML marks reportlet markup as trusted. Reportlets are produced by
	// the pipeline itself.
	"safeHTML": func(s string) template.HTML {
		return template.HTML(s)
	},
	"formatDate": func(layout string, t time.Time) string {
		if layout == "" {
			layout = time.RFC3339
		}
		return t.Format(layout)
	},
	// anchor turns a group or run name into an id usable in fragment links.
	"anchor": func(parts ...string) string {
		joined := strings.Join(parts, "-")
		return strings.Trim(anchorUnsafe.ReplaceAllString(joined, "-"), "-")
	},
	"basename": filepath.Base,
}

// Funcs returns a copy of the function map registered on every template.
func Funcs() template.FuncMap {
	fm := make(template.FuncMap, len(customTemplateFuncs))
	for k, v := range customTemplateFuncs {
		fm[k] = v
	}
	return fm
}

// LoadDefaultTemplate parses the embedded default report template.
func LoadDefaultTemplate() (*template.Template, error) {
	if defaultTemplateContent == "" {
		return nil, fmt.Errorf("embedded default template content is empty")
	}
	tmpl, err := template.New("report").Funcs(customTemplateFuncs).Parse(defaultTemplateContent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse default template: %w", err)
	}
	return tmpl, nil
}

// LoadTemplateFile reads a custom report template from fs and parses it with
// the custom functions registered.
func LoadTemplateFile(fs afero.Fs, path string) (*template.Template, error) {
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %q: %w", path, err)
	}
	tmpl, err := template.New(filepath.Base(path)).Funcs(customTemplateFuncs).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", path, err)
	}
	return tmpl, nil
}
