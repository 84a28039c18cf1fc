package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"ai-hotline/internal/observability"
)

var (
	ErrSendingEmail   = errors.New("error sending email")
	ErrRenderTemplate = errors.New("failed to render email template")
)

const (
	TemplateCallSummary  = "call_summary"
	TemplateNotification = "call_notification"
)

// EmailService renders hotline emails and hands them to a Sender.
type EmailService struct {
	sender    Sender
	logger    *observability.Logger
	templates map[string]*template.Template
	now       func() time.Time
}

// TemplateData represents the data that can be used in templates
type TemplateData struct {
	TenantName   string
	CallID       string
	CallerNumber string
	Intent       string
	Summary      string
	SentAt       time.Time
}

// Lines splits the summary into display lines, skipping blanks.
func (d TemplateData) Lines() []string {
	var lines []string
	for _, l := range strings.Split(d.Summary, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

var defaultTemplates = map[string]string{
	TemplateCallSummary: `
	<html>
		<body>
			<h1>Call summary</h1>
			<p><strong>{{.TenantName}}</strong> hotline call {{.CallID}}{{if .CallerNumber}} from {{.CallerNumber}}{{end}}.</p>
			{{range .Lines}}<p>{{.}}</p>
			{{end}}
			<p style="color: #6B7280;">Sent {{.SentAt.Format "2006-01-02 15:04 MST"}}</p>
		</body>
	</html>
	`,
	TemplateNotification: `
	<html>
		<body>
			<h1>Hotline notification{{if .Intent}}: {{.Intent}}{{end}}</h1>
			<p>Call {{.CallID}}{{if .CallerNumber}} from {{.CallerNumber}}{{end}} needs attention.</p>
			{{range .Lines}}<p>{{.}}</p>
			{{end}}
		</body>
	</html>
	`,
}

// New creates an EmailService with the built-in hotline templates.
func New(sender Sender, logger *observability.Logger) *EmailService {
	s := &EmailService{
		sender:    sender,
		logger:    logger,
		templates: map[string]*template.Template{},
		now:       time.Now,
	}
	for name, content := range defaultTemplates {
		// built-in templates are known to parse
		_ = s.RegisterTemplate(name, content)
	}
	return s
}

// RegisterTemplate adds or replaces a template
func (s *EmailService) RegisterTemplate(name, templateContent string) error {
	tmpl, err := template.New(name).Parse(templateContent)
	if err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}
	s.templates[name] = tmpl
	return nil
}

// Render executes the named template. Values are HTML-escaped.
func (s *EmailService) Render(templateName string, data TemplateData) (string, error) {
	tmpl, ok := s.templates[templateName]
	if !ok {
		return "", fmt.Errorf("%w: template %s not found", ErrRenderTemplate, templateName)
	}
	if data.SentAt.IsZero() {
		data.SentAt = s.now().UTC()
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %s", ErrRenderTemplate, err.Error())
	}
	return buf.String(), nil
}

// SendWithTemplate renders templateName and sends it with the summary as the plain-text part.
// It returns the provider's message id.
func (s *EmailService) SendWithTemplate(ctx context.Context, to, subject, templateName string, data TemplateData) (string, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "email_type", Value: templateName},
		observability.Field{Key: "recipient", Value: to},
	)

	htmlContent, err := s.Render(templateName, data)
	if err != nil {
		s.logger.Error(ctx, fmt.Sprintf("failed to render %s template", templateName), err)
		return "", err
	}

	id, err := s.sender.SendEmail(ctx, to, subject, htmlContent, data.Summary)
	if err != nil {
		s.logger.Error(ctx, fmt.Sprintf("failed to send %s email", templateName), err)
		return "", fmt.Errorf("%w: %s", ErrSendingEmail, err.Error())
	}
	return id, nil
}

// SendCallSummary emails the end-of-call summary.
func (s *EmailService) SendCallSummary(ctx context.Context, to string, data TemplateData) (string, error) {
	return s.SendWithTemplate(ctx, to, fmt.Sprintf("Call summary %s", data.CallID), TemplateCallSummary, data)
}
