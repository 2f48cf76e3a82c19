package template

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/claimdesk/notify-engine/internal/domain"
)

// RenderedMessage is the renderer output consumed by the delivery worker.
type RenderedMessage struct {
	Subject  string
	TextBody string
	HTMLBody string
}

// renderInput is the dot passed to every template.
type renderInput struct {
	Payload any
	BaseURL string
}

type messageTemplate struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// Renderer turns a (template_key, payload) pair into subject, text and
// html bodies. All templates are parsed once at construction; rendering
// itself touches no external state.
type Renderer struct {
	baseURL   string
	templates map[string]*messageTemplate
}

func NewRenderer(baseURL string) (*Renderer, error) {
	r := &Renderer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		templates: make(map[string]*messageTemplate, len(templateSources)),
	}

	for key, src := range templateSources {
		subject, err := texttemplate.New(key + ".subject").Funcs(sprig.FuncMap()).Parse(src.subject)
		if err != nil {
			return nil, fmt.Errorf("parsing subject template %q: %w", key, err)
		}
		text, err := texttemplate.New(key + ".text").Funcs(sprig.FuncMap()).Parse(src.text)
		if err != nil {
			return nil, fmt.Errorf("parsing text template %q: %w", key, err)
		}
		html, err := htmltemplate.New(key + ".html").Funcs(sprig.HtmlFuncMap()).Parse(src.html)
		if err != nil {
			return nil, fmt.Errorf("parsing html template %q: %w", key, err)
		}

		r.templates[key] = &messageTemplate{subject: subject, text: text, html: html}
	}

	return r, nil
}

func (r *Renderer) Render(templateKey string, payload json.RawMessage) (*RenderedMessage, error) {
	tmpl, ok := r.templates[templateKey]
	if !ok {
		return nil, fmt.Errorf("%w: unknown template key %q", domain.ErrNotFound, templateKey)
	}

	decoded, err := decodePayload(templateKey, payload)
	if err != nil {
		return nil, err
	}

	input := renderInput{Payload: decoded, BaseURL: r.baseURL}

	var subject, text, html strings.Builder
	if err := tmpl.subject.Execute(&subject, input); err != nil {
		return nil, fmt.Errorf("rendering subject for %q: %w", templateKey, err)
	}
	if err := tmpl.text.Execute(&text, input); err != nil {
		return nil, fmt.Errorf("rendering text body for %q: %w", templateKey, err)
	}
	if err := tmpl.html.Execute(&html, input); err != nil {
		return nil, fmt.Errorf("rendering html body for %q: %w", templateKey, err)
	}

	return &RenderedMessage{
		Subject:  strings.TrimSpace(subject.String()),
		TextBody: text.String(),
		HTMLBody: html.String(),
	}, nil
}
