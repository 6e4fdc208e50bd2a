// smtp.go
//
// Mailer interface, SMTPMailer, and NopMailer.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Mailer sends the two transactional emails the service needs.
//
// token is the raw single-use token; the mailer turns it into a link.
// vars maps %%key%% placeholders to values (e.g. "name": "Ada"). Unresolved
// placeholders are stripped. Reserved keys (url, toEmail, expiresIn) belong to
// the mailer and are ignored when passed in vars.
type Mailer interface {
	SendEmailVerification(ctx context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error
	SendPasswordReset(ctx context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error
}

// SMTPConfig holds all configuration for SMTPMailer.
type SMTPConfig struct {
	Host        string
	Port        string
	Username    string
	Password    string
	FromAddress string
	// VerifyURLBase is the frontend page that POSTs the token to /verify-email/{token}.
	VerifyURLBase string
	// ResetURLBase is the frontend page that POSTs the token to /password/confirm.
	ResetURLBase string
}

// message is a plain-text email template.
type message struct {
	subject string
	body    string
	urlBase string
}

var (
	verificationMessage = message{
		subject: "Confirm your email address",
		body: "Hi %%name%%,\n\n" +
			"Please confirm your email address by opening the link below:\n\n" +
			"%%url%%\n\n" +
			"This link expires in %%expiresIn%%. If you did not create an account, ignore this email.",
	}
	resetMessage = message{
		subject: "Reset your password",
		body: "Hi %%name%%,\n\n" +
			"We received a request to reset the password for %%toEmail%%.\n" +
			"Choose a new password here:\n\n" +
			"%%url%%\n\n" +
			"This link expires in %%expiresIn%%. If you did not ask for a reset, ignore this email.",
	}
)

// SMTPMailer sends mail over SMTP with mandatory STARTTLS.
// Works with any provider (SES, Mailgun, Mailpit for local dev).
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTPMailer with the given config.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// NopMailer discards all outbound email. Used when SMTP is not configured.
type NopMailer struct{}

func (NopMailer) SendEmailVerification(_ context.Context, toEmail, _ string, _ time.Duration, _ map[string]string) error {
	slog.Debug("smtp disabled, dropping email", "component", "mail", "type", jobEmailVerification, "to", toEmail)
	return nil
}

func (NopMailer) SendPasswordReset(_ context.Context, toEmail, _ string, _ time.Duration, _ map[string]string) error {
	slog.Debug("smtp disabled, dropping email", "component", "mail", "type", jobPasswordReset, "to", toEmail)
	return nil
}

var reservedVars = map[string]bool{
	"url":       true,
	"toEmail":   true,
	"expiresIn": true,
}

var unresolvedPlaceholder = regexp.MustCompile(`%%\w+%%`)

// applyVars substitutes %%key%% placeholders in tmpl and strips any left over.
func applyVars(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "%%"+key+"%%", value)
	}
	substituted := strings.NewReplacer(pairs...).Replace(tmpl)
	return unresolvedPlaceholder.ReplaceAllString(substituted, "")
}

// formatDuration renders an expiry: time.Hour -> "1 hour", 48h -> "2 days".
func formatDuration(d time.Duration) string {
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= 24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	case d >= time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Minutes()), "minute")
	}
}

// tokenLink appends the token to base as a query parameter, preserving any existing query.
func tokenLink(base, token string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}

// compose renders headers and body for one recipient.
func (m *SMTPMailer) compose(msg message, toEmail, token string, expiresIn time.Duration, vars map[string]string) string {
	merged := make(map[string]string, len(vars)+3)
	for k, v := range vars {
		if !reservedVars[k] {
			merged[k] = v
		}
	}
	merged["toEmail"] = toEmail
	merged["expiresIn"] = formatDuration(expiresIn)
	merged["url"] = tokenLink(msg.urlBase, token)

	raw := "From: " + m.cfg.FromAddress + "\r\n" +
		"To: " + toEmail + "\r\n" +
		"Subject: " + msg.subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		msg.body
	return applyVars(raw, merged)
}

// sendMail dials the server, refuses sessions without STARTTLS, authenticates,
// and delivers msg. The dial respects ctx.
func (m *SMTPMailer) sendMail(ctx context.Context, toEmail, msg string) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", net.JoinHostPort(m.cfg.Host, m.cfg.Port))
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server does not advertise STARTTLS: refusing plaintext session")
	}
	if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}
	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(toEmail); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprint(wc, msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return c.Quit()
}

// SendEmailVerification emails a verification link to toEmail.
func (m *SMTPMailer) SendEmailVerification(ctx context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error {
	msg := verificationMessage
	msg.urlBase = m.cfg.VerifyURLBase
	if err := m.sendMail(ctx, toEmail, m.compose(msg, toEmail, token, expiresIn, vars)); err != nil {
		return fmt.Errorf("sending email verification: %w", err)
	}
	return nil
}

// SendPasswordReset emails a password reset link to toEmail.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error {
	msg := resetMessage
	msg.urlBase = m.cfg.ResetURLBase
	if err := m.sendMail(ctx, toEmail, m.compose(msg, toEmail, token, expiresIn, vars)); err != nil {
		return fmt.Errorf("sending password reset email: %w", err)
	}
	return nil
}
