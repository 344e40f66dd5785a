package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"moby-monitor/internal/config"
	"moby-monitor/internal/models"

	"go.uber.org/zap"
)

// EmailSender SMTP 邮件通道
type EmailSender struct {
	config *config.Config
	logger *zap.Logger
}

// NewEmailSender 创建邮件通道
func NewEmailSender(cfg *config.Config, logger *zap.Logger) *EmailSender {
	return &EmailSender{
		config: cfg,
		logger: logger,
	}
}

// Enabled 凭据缺失时该通道禁用（只禁用本通道，不影响流水线）
func (s *EmailSender) Enabled() bool {
	return s.config.Notify.Email.Sender != "" && s.config.Notify.Email.Password != ""
}

func (s *EmailSender) Name() string {
	return "email"
}

// Send 发送报警邮件
// net/smtp 不支持 context，超时由 Dispatcher 的重试预算兜底
func (s *EmailSender) Send(ctx context.Context, event *models.AlertEvent) error {
	email := s.config.Notify.Email
	addr := fmt.Sprintf("%s:%d", email.SMTPHost, email.SMTPPort)
	auth := smtp.PlainAuth("", email.Sender, email.Password, email.SMTPHost)

	subject := fmt.Sprintf("[MOBY] %s Alert - %s", event.Severity.String(), event.SensorType)
	msg := buildMessage(email.Sender, email.Recipient, subject, buildHTMLBody(event))

	if err := smtp.SendMail(addr, auth, email.Sender, []string{email.Recipient}, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("Alert email sent",
		zap.String("event_id", event.EventID),
		zap.String("recipient", email.Recipient),
	)
	return nil
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

func buildHTMLBody(event *models.AlertEvent) string {
	var b strings.Builder
	b.WriteString(`<html><body style="font-family: Arial, sans-serif;">`)
	b.WriteString(fmt.Sprintf(`<h2 style="color: #DC2626;">%s Alert</h2>`, event.Severity.String()))
	b.WriteString(fmt.Sprintf("<p><strong>%s</strong></p>", event.Detail))
	b.WriteString(`<table style="border-collapse: collapse; margin: 20px 0;">`)
	b.WriteString(row("Sensor", event.SensorType))
	b.WriteString(row("Metric", event.Metric))
	b.WriteString(row("Value", fmt.Sprintf("%.2f", event.Value)))
	b.WriteString(row("Threshold", fmt.Sprintf("%.2f", event.Threshold)))
	b.WriteString("</table>")
	if event.Analysis != nil && *event.Analysis != "" {
		b.WriteString(`<div style="background: #f3f4f6; padding: 15px; border-radius: 5px;">`)
		b.WriteString("<h3>AI Analysis</h3><p>" + *event.Analysis + "</p></div>")
	}
	b.WriteString(fmt.Sprintf(`<p style="color: #666; margin-top: 20px;">Triggered: %s<br>MOBY Alert System</p>`,
		event.TriggeredAt.Format("2006-01-02 15:04:05 MST")))
	b.WriteString("</body></html>")
	return b.String()
}

func row(label, value string) string {
	return fmt.Sprintf(
		`<tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>%s</strong></td>`+
			`<td style="padding: 8px; border: 1px solid #ddd;">%s</td></tr>`,
		label, value)
}
