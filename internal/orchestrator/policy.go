package orchestrator

import (
	"bytes"
	"errors"
	"strings"
	"text/template"

	"github.com/garnizeh/techsync/internal/config"
	"github.com/garnizeh/techsync/internal/identity"
)

// CommentData is what a comment template can reference.
type CommentData struct {
	Technician string
	TicketID   string
	Strategy   identity.Strategy
	Assigned   bool
}

// CommentPolicy renders the audit comment posted after an assignment attempt.
// The comment always names the local technician, never the remote identity.
type CommentPolicy struct {
	tpl *template.Template
}

// NewCommentPolicy parses text as a text/template. Unknown fields fail at render time.
func NewCommentPolicy(text string) (*CommentPolicy, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("comment template is empty")
	}
	tpl, err := template.New("comment").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, err
	}
	return &CommentPolicy{tpl: tpl}, nil
}

// DefaultCommentPolicy renders "Assigned to <technician>", or notes that the
// remote assignment failed when it did.
func DefaultCommentPolicy() *CommentPolicy {
	return &CommentPolicy{tpl: template.Must(template.New("comment").Parse(config.DefaultCommentTemplate))}
}

func (p *CommentPolicy) Render(d CommentData) (string, error) {
	var buf bytes.Buffer
	if err := p.tpl.Execute(&buf, d); err != nil {
		return "", err
	}
	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", errors.New("comment template rendered empty text")
	}
	return text, nil
}
