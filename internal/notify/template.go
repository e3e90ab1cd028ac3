package notify

import (
	"bytes"
	"errors"
	"strconv"
	"text/template"
	"time"

	"thermowatch/internal/models"
)

const DefaultTemplate = `[{{.SeverityLabel}}] {{.Message}}
Source: {{.Source}}
Observed: {{.ObservedAt}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Subscriber    string
	Metric        string
	Direction     string
	Severity      string
	SeverityLabel string
	Value         string
	Limit         string
	Message       string
	Source        string
	ObservedAt    string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildTemplateData(n *models.Notification) TemplateData {
	observed := ""
	if !n.Reading.ObservedAt.IsZero() {
		observed = n.Reading.ObservedAt.UTC().Format(time.RFC3339)
	}
	return TemplateData{
		Subscriber:    n.SubscriberID,
		Metric:        n.Metric,
		Direction:     n.Direction,
		Severity:      n.Severity,
		SeverityLabel: severityLabel(n.Severity),
		Value:         formatFloat(n.Value),
		Limit:         formatFloat(n.Limit),
		Message:       n.Message,
		Source:        n.Reading.SourceID,
		ObservedAt:    observed,
	}
}

func severityLabel(severity string) string {
	switch severity {
	case "critical":
		return "CRITICAL"
	case "warning":
		return "WARNING"
	default:
		return severity
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
