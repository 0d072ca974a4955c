// Package template substitutes placeholder variables into campaign
// content. Placeholders use {name} or {{ name }} syntax with no control
// flow and no nesting; an unresolved variable renders as [name] so
// broken templates stay visible instead of leaking raw markup.
package template

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/postwave/postwave/internal/domain"
)

// varPattern matches {{ name }} (first alternative, spaces allowed) and
// {name}. The double-brace form must come first so {{x}} never matches
// as a single-brace placeholder wrapped in braces.
var varPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Renderer performs placeholder substitution.
type Renderer struct {
	now func() time.Time
}

// New creates a Renderer.
func New() *Renderer {
	return &Renderer{now: time.Now}
}

// Variables returns the distinct placeholder names in content, sorted.
// Both placeholder forms are reported together.
func (r *Renderer) Variables(content string) []string {
	seen := map[string]bool{}
	for _, m := range varPattern.FindAllStringSubmatch(content, -1) {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render substitutes placeholders in content. Caller data wins over
// the built-in defaults (sample values for name, email, company and
// role, and date, the current day as dd/mm/yyyy), so previews without
// data still show filled-in text. A variable present in neither
// renders as [name].
func (r *Renderer) Render(content string, data map[string]string) string {
	merged := map[string]string{
		"name":    "Test Name",
		"email":   "email@test.com",
		"company": "Test Company",
		"role":    "Test Role",
		"date":    r.now().Format("02/01/2006"),
	}
	for k, v := range data {
		merged[k] = v
	}

	return varPattern.ReplaceAllStringFunc(content, func(m string) string {
		sub := varPattern.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		if v, ok := merged[name]; ok {
			return v
		}
		return "[" + name + "]"
	})
}

// ContactData maps a contact onto the default variable set.
func ContactData(c domain.Contact) map[string]string {
	return map[string]string{
		"name":    c.Name,
		"email":   c.Email,
		"company": c.Company,
		"role":    c.Role,
	}
}

// RenderTemplate renders a stored template's subject and body for one
// set of data. When the template carries a stylesheet it is inlined
// into the document head.
func (r *Renderer) RenderTemplate(t domain.Template, data map[string]string) (subject, html string) {
	subject = r.Render(t.Subject, data)
	html = r.Render(t.HTML, data)
	if strings.TrimSpace(t.CSS) != "" {
		html = inlineCSS(html, t.CSS)
	}
	return subject, html
}

// inlineCSS places a <style> block inside <head> when one exists, and
// prepends it otherwise.
func inlineCSS(html, css string) string {
	block := "<style>\n" + css + "\n</style>"
	if idx := strings.Index(strings.ToLower(html), "<head>"); idx >= 0 {
		insert := idx + len("<head>")
		return html[:insert] + block + html[insert:]
	}
	return block + html
}
