package mail

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// TemplateVars is the known substitution set for outbound templates.
// Missing variables render as empty strings (lax mode).
type TemplateVars struct {
	TicketID      string
	CustomerName  string
	CustomerEmail string
	Subject       string
	Message       string
	AdminName     string
}

func (v TemplateVars) bindings() map[string]interface{} {
	return map[string]interface{}{
		"ticket_id":      v.TicketID,
		"customer_name":  v.CustomerName,
		"customer_email": v.CustomerEmail,
		"subject":        v.Subject,
		"message":        v.Message,
		"admin_name":     v.AdminName,
	}
}

// TemplateEngine renders {{var}} placeholders in outbound subjects and
// bodies through Liquid, caching compiled templates by key.
type TemplateEngine struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateEngine creates a template engine.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{engine: liquid.NewEngine()}
}

// Render substitutes vars into src. cacheKey keys the compiled-template
// cache; pass "" to skip caching (ad-hoc bodies).
func (e *TemplateEngine) Render(cacheKey, src string, vars TemplateVars) (string, error) {
	if cacheKey != "" {
		if cached, ok := e.cache.Load(cacheKey); ok {
			return cached.(*liquid.Template).RenderString(vars.bindings())
		}
	}

	tpl, err := e.engine.ParseString(src)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	if cacheKey != "" {
		e.cache.Store(cacheKey, tpl)
	}
	return tpl.RenderString(vars.bindings())
}

// Validate reports whether src compiles.
func (e *TemplateEngine) Validate(src string) error {
	_, err := e.engine.ParseString(src)
	return err
}
