package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"

	"github.com/gellingson/carbyr/internal/config"
	"github.com/gellingson/carbyr/internal/domain/listings"
)

// Service mails import reports to the operators listed in the config.
type Service struct {
	config       config.EmailConfig
	resendClient *resend.Client
	report       *template.Template
	logger       zerolog.Logger
	sendAttempts uint
	retryDelay   time.Duration
}

type reportView struct {
	*listings.ImportReport
	Elapsed  string
	Counters []counterRow
}

type counterRow struct {
	Name  string
	Count int
}

var reportTemplate = template.Must(template.New("report").Parse(`<html><body>
<h2>Import {{.Source}}</h2>
<p>Run {{.RunID}} started {{.StartedAt.Format "2006-01-02 15:04:05 MST"}}, took {{.Elapsed}}.</p>
<table>
<tr><td>Fetched</td><td>{{.Fetched}}</td></tr>
<tr><td>Accepted</td><td>{{.Accepted}}</td></tr>
<tr><td>Rejected</td><td>{{.Rejected}}</td></tr>
<tr><td>Inserted</td><td>{{.Inserted}}</td></tr>
<tr><td>Updated</td><td>{{.Updated}}</td></tr>
<tr><td>Unchanged</td><td>{{.Unchanged}}</td></tr>
<tr><td>Conflicts</td><td>{{.Conflicts}}</td></tr>
<tr><td>Removed</td><td>{{.Removed}}</td></tr>
</table>
{{if .Counters}}<h3>Counters</h3>
<table>
{{range .Counters}}<tr><td>{{.Name}}</td><td>{{.Count}}</td></tr>
{{end}}</table>{{end}}
</body></html>`))

// NewService validates the addresses of an enabled config and builds the
// Resend client.
func NewService(cfg config.EmailConfig, logger zerolog.Logger) (*Service, error) {
	s := &Service{
		config:       cfg,
		report:       reportTemplate,
		logger:       logger.With().Str("component", "email").Logger(),
		sendAttempts: 3,
		retryDelay:   2 * time.Second,
	}
	if !cfg.Enabled {
		return s, nil
	}

	if err := validateEmailAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender email in config: %w", err)
	}
	if len(cfg.To) == 0 {
		return nil, fmt.Errorf("no report recipients configured")
	}
	for _, to := range cfg.To {
		if err := validateEmailAddress(to); err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
		}
	}
	if cfg.ResendAPIKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY is required when email is enabled")
	}
	s.resendClient = resend.NewClient(cfg.ResendAPIKey)
	return s, nil
}

// NotifyImport mails a summary of report. With email disabled it only logs.
func (s *Service) NotifyImport(ctx context.Context, report *listings.ImportReport) error {
	if report == nil {
		return nil
	}
	subject := Subject(report)
	if !s.config.Enabled {
		s.logger.Debug().Str("subject", subject).Msg("email disabled, report not sent")
		return nil
	}

	body, err := s.renderReport(report)
	if err != nil {
		return err
	}
	return s.sendViaResend(ctx, s.config.To, subject, body)
}

// Subject is the one-line summary used as the mail subject.
func Subject(report *listings.ImportReport) string {
	return fmt.Sprintf("carbyr import %s: %d accepted, %d rejected", report.Source, report.Accepted, report.Rejected)
}

func (s *Service) renderReport(report *listings.ImportReport) (string, error) {
	view := reportView{ImportReport: report}
	if !report.FinishedAt.IsZero() {
		view.Elapsed = report.FinishedAt.Sub(report.StartedAt).Round(time.Second).String()
	}
	for _, k := range report.Counters.Keys() {
		view.Counters = append(view.Counters, counterRow{Name: k, Count: report.Counters.Get(k)})
	}

	var buf bytes.Buffer
	if err := s.report.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render import report: %w", err)
	}
	return buf.String(), nil
}

// validateEmailAddress validates an email address for format and header injection attempts
func validateEmailAddress(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}

	if strings.ContainsAny(addr.Address, "\r\n") {
		return fmt.Errorf("invalid email address: contains newline characters")
	}

	return nil
}
