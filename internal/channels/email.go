package channels

import (
	"context"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk/backend/internal/models"
)

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender replies over SMTP as HTML, threaded onto the customer's last email.
type EmailSender struct {
	SMTP       SMTPConfig
	SenderName string

	sendMail sendMailFunc
}

// NewEmailFactory reads smtpHost, smtpPort, emailUser, emailPassword and senderName
// from the channel config, falling back to cfg.
func NewEmailFactory(cfg SMTPConfig) Factory {
	return func(ctx context.Context, ch models.Channel) (Sender, error) {
		s := &EmailSender{
			SMTP: SMTPConfig{
				Host:     firstNonEmpty(ch.ConfigString("smtpHost"), cfg.Host),
				Port:     firstNonEmpty(configID(ch, "smtpPort"), cfg.Port, "587"),
				Username: firstNonEmpty(ch.ConfigString("emailUser"), cfg.Username),
				Password: firstNonEmpty(ch.ConfigString("emailPassword"), cfg.Password),
				From:     firstNonEmpty(ch.ConfigString("emailUser"), cfg.From, cfg.Username),
			},
			SenderName: firstNonEmpty(ch.ConfigString("senderName"), "Support"),
		}
		if s.SMTP.Host == "" {
			return nil, fmt.Errorf("email channel %s: smtp host not configured", ch.ID)
		}
		return s, nil
	}
}

func (e *EmailSender) SendText(ctx context.Context, dest Destination, text string) (string, error) {
	return e.send(ctx, dest, htmlBody(text))
}

func (e *EmailSender) SendMedia(ctx context.Context, dest Destination, mediaURL, caption string, mediaType models.MessageType) (string, error) {
	link := fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(mediaURL), html.EscapeString(mediaURL))
	body := htmlBody(caption)
	if caption == "" {
		body = ""
	}
	return e.send(ctx, dest, body+"<p>"+link+"</p>")
}

func (e *EmailSender) send(ctx context.Context, dest Destination, body string) (string, error) {
	if dest.Email == "" {
		return "", fmt.Errorf("contact email: %w", ErrMissingDestination)
	}
	subject := firstNonEmpty(dest.Subject, "Re: Support")
	domain := "localhost"
	if at := strings.LastIndex(e.SMTP.From, "@"); at >= 0 {
		domain = e.SMTP.From[at+1:]
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)

	msg := buildMessage(e.SenderName, e.SMTP.From, dest.Email, subject, messageID, dest.InReplyTo, body)

	var auth smtp.Auth
	if e.SMTP.Username != "" {
		auth = smtp.PlainAuth("", e.SMTP.Username, e.SMTP.Password, e.SMTP.Host)
	}
	send := e.sendMail
	if send == nil {
		send = smtp.SendMail
	}

	done := make(chan error, 1)
	go func() {
		done <- send(net.JoinHostPort(e.SMTP.Host, e.SMTP.Port), auth, e.SMTP.From, []string{dest.Email}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send: %w", err)
		}
		return messageID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func buildMessage(senderName, from, to, subject, messageID, inReplyTo, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %q <%s>\r\n", senderName, from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	if inReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", inReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", inReplyTo)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func htmlBody(text string) string {
	escaped := strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
	return `<div style="font-family: Arial, sans-serif; font-size: 14px; color: #333;">` +
		escaped + `<br><br><small style="color: #999;">Support team</small></div>`
}
