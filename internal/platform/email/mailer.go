// Package email sends the OTP e-mails requested by the external auth provider through Resend.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/resend/resend-go/v2"
)

// OTP purposes the auth provider asks for.
const (
	PurposeVerify = "verify"
	PurposeReset  = "reset"
)

var ErrUnknownPurpose = errors.New("unknown otp purpose")

// Config holds the sender identity and API key.
type Config struct {
	ResendAPIKey string
	FromAddress  string
	FromName     string
	AppName      string
}

// OTPEmail is one code to deliver. The code is generated and validated elsewhere.
type OTPEmail struct {
	To        string
	Code      string
	Purpose   string
	ExpiresIn time.Duration
}

// EmailSender is the part of resend's Emails service the mailer needs.
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

type Metrics struct {
	sendLatency prometheus.Histogram
	errorCount  prometheus.Counter
	sentCount   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "push_email_send_duration_seconds",
			Help:    "Time taken to send OTP emails",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		}),
		errorCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "push_email_errors_total",
			Help: "Total number of OTP email sending errors",
		}),
		sentCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "push_emails_sent_total",
			Help: "Total number of OTP emails sent",
		}),
	}
	reg.MustRegister(m.sendLatency, m.errorCount, m.sentCount)
	return m
}

type Mailer struct {
	cfg     Config
	sender  EmailSender
	tmpl    *template.Template
	metrics *Metrics
	logger  *slog.Logger
}

// NewMailer builds a Resend client from the API key.
func NewMailer(cfg Config, reg prometheus.Registerer, logger *slog.Logger) *Mailer {
	client := resend.NewClient(cfg.ResendAPIKey)
	return NewMailerWithSender(cfg, client.Emails, reg, logger)
}

func NewMailerWithSender(cfg Config, sender EmailSender, reg prometheus.Registerer, logger *slog.Logger) *Mailer {
	if cfg.AppName == "" {
		cfg.AppName = cfg.FromName
	}
	return &Mailer{
		cfg:     cfg,
		sender:  sender,
		tmpl:    template.Must(template.New("otp").Parse(otpEmailTemplate)),
		metrics: newMetrics(reg),
		logger:  logger.With("component", "OTPMailer"),
	}
}

type otpTemplateData struct {
	AppName string
	Heading string
	Intro   string
	Code    string
	Minutes int
}

func (m *Mailer) SendOTP(ctx context.Context, otp OTPEmail) (string, error) {
	start := time.Now()
	defer func() {
		m.metrics.sendLatency.Observe(time.Since(start).Seconds())
	}()

	subject, data, err := m.content(otp)
	if err != nil {
		m.metrics.errorCount.Inc()
		return "", err
	}

	var html bytes.Buffer
	if err := m.tmpl.Execute(&html, data); err != nil {
		m.metrics.errorCount.Inc()
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromAddress),
		To:      []string{otp.To},
		Subject: subject,
		Html:    html.String(),
		// A unique reference stops mail clients threading successive codes together.
		Headers: map[string]string{"X-Entity-Ref-ID": uuid.NewString()},
	}

	resp, err := m.sender.SendWithContext(ctx, params)
	if err != nil {
		m.metrics.errorCount.Inc()
		m.logger.Error("Failed to send OTP email", "purpose", otp.Purpose, "err", err)
		return "", fmt.Errorf("email send failed: %w", err)
	}

	m.metrics.sentCount.Inc()
	m.logger.Info("OTP email sent", "purpose", otp.Purpose, "email_id", resp.Id)
	return resp.Id, nil
}

func (m *Mailer) content(otp OTPEmail) (string, otpTemplateData, error) {
	data := otpTemplateData{
		AppName: m.cfg.AppName,
		Code:    otp.Code,
		Minutes: int(otp.ExpiresIn.Minutes()),
	}
	switch otp.Purpose {
	case PurposeVerify:
		data.Heading = "Verify your email"
		data.Intro = "Use this code to finish signing in:"
		return fmt.Sprintf("Your %s verification code", m.cfg.AppName), data, nil
	case PurposeReset:
		data.Heading = "Reset your password"
		data.Intro = "Use this code to reset your password:"
		return fmt.Sprintf("Reset your %s password", m.cfg.AppName), data, nil
	}
	return "", data, fmt.Errorf("%w: %q", ErrUnknownPurpose, otp.Purpose)
}

const otpEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Heading}}</title>
    <style>
        body { font-family: sans-serif; background-color: #f7f7f7; color: #333333; margin: 0; padding: 20px; text-align: center; }
        .container { max-width: 480px; margin: 20px auto; background-color: #ffffff; padding: 30px; border-radius: 12px; }
        .code { font-size: 32px; font-weight: bold; letter-spacing: 8px; margin: 24px 0; }
        .note { font-size: 13px; color: #777777; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Heading}}</h1>
        <p>{{.Intro}}</p>
        <p class="code">{{.Code}}</p>
        {{if .Minutes}}<p class="note">This code expires in {{.Minutes}} minutes.</p>{{end}}
        <p class="note">If you did not request this, you can ignore this email. {{.AppName}}</p>
    </div>
</body>
</html>`
