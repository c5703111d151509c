// internal/service/template_service.go
package service

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/osteele/liquid"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Renderer produces the message one subscriber receives for a campaign.
type Renderer interface {
	Render(c *model.Campaign, s *model.Subscriber) (model.RenderedMessage, error)
}

const (
	// defaultLayout is used when a campaign's template has no content.
	defaultLayout = "{{ content }}"

	// DefaultTemplateCacheSize bounds the parsed templates kept in memory.
	// Preview overrides are arbitrary text, so the cache evicts.
	DefaultTemplateCacheSize = 512
)

// LiquidRenderer renders campaign content with Liquid and places it in the
// {{ content }} slot of the campaign's template. Subscriber fields are
// available as subscriber_first_name, subscriber_last_name and
// subscriber_email.
type LiquidRenderer struct {
	engine *liquid.Engine
	cache  *lru.Cache[string, *liquid.Template]
}

func NewLiquidRenderer() *LiquidRenderer {
	return NewLiquidRendererSize(DefaultTemplateCacheSize)
}

// NewLiquidRendererSize keeps at most size parsed templates.
func NewLiquidRendererSize(size int) *LiquidRenderer {
	cache, err := lru.New[string, *liquid.Template](max(size, 1))
	if err != nil {
		panic(err)
	}
	return &LiquidRenderer{engine: liquid.NewEngine(), cache: cache}
}

func (r *LiquidRenderer) Render(c *model.Campaign, s *model.Subscriber) (model.RenderedMessage, error) {
	vars := liquid.Bindings{
		"subscriber_first_name": s.FirstName,
		"subscriber_last_name":  s.LastName,
		"subscriber_email":      s.Email,
	}

	content, err := r.render(c.Content, vars)
	if err != nil {
		return model.RenderedMessage{}, fmt.Errorf("render content: %w", err)
	}

	layout := c.TemplateContent
	if strings.TrimSpace(layout) == "" {
		layout = defaultLayout
	}
	vars["content"] = content
	html, err := r.render(layout, vars)
	if err != nil {
		return model.RenderedMessage{}, fmt.Errorf("render template: %w", err)
	}

	subject, err := r.render(c.Subject, vars)
	if err != nil {
		return model.RenderedMessage{}, fmt.Errorf("render subject: %w", err)
	}

	return model.RenderedMessage{
		To:        s.Email,
		FromName:  c.FromName,
		FromEmail: c.FromEmail,
		Subject:   subject,
		Preheader: c.Preheader,
		HTML:      html,
	}, nil
}

func (r *LiquidRenderer) render(source string, vars liquid.Bindings) (string, error) {
	if cached, ok := r.cache.Get(source); ok {
		return renderTemplate(cached, vars)
	}
	tpl, err := r.engine.ParseString(source)
	if err != nil {
		return "", err
	}
	r.cache.Add(source, tpl)
	return renderTemplate(tpl, vars)
}

func renderTemplate(tpl *liquid.Template, vars liquid.Bindings) (string, error) {
	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", err
	}
	return out, nil
}

var _ Renderer = (*LiquidRenderer)(nil)
