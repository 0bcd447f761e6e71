package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"
)

// SMTPProvider delivers through a submission server: implicit TLS on 465,
// STARTTLS otherwise. One connection per send.
type SMTPProvider struct {
	Host        string
	Port        int
	Username    string
	Password    string
	DialTimeout time.Duration
}

// NewSMTPProvider creates an SMTP provider.
func NewSMTPProvider(host string, port int, username, password string, dialTimeout time.Duration) *SMTPProvider {
	if port == 0 {
		port = 587
	}
	if dialTimeout == 0 {
		dialTimeout = 15 * time.Second
	}
	return &SMTPProvider{Host: host, Port: port, Username: username, Password: password, DialTimeout: dialTimeout}
}

// Name implements Provider.
func (p *SMTPProvider) Name() string { return "smtp" }

// Send implements Provider.
func (p *SMTPProvider) Send(ctx context.Context, env *Envelope) (string, error) {
	c, err := p.connect(ctx)
	if err != nil {
		return "", err
	}
	defer c.Close()

	if err := c.Mail(env.From); err != nil {
		return "", classifySMTP(fmt.Errorf("MAIL FROM: %w", err))
	}
	for _, rcpt := range allRecipients(env) {
		if err := c.Rcpt(rcpt); err != nil {
			return "", classifySMTP(fmt.Errorf("RCPT TO %s: %w", rcpt, err))
		}
	}

	w, err := c.Data()
	if err != nil {
		return "", classifySMTP(fmt.Errorf("DATA: %w", err))
	}
	if _, err := w.Write(BuildRaw(env, time.Now().UTC())); err != nil {
		w.Close()
		return "", Transient(fmt.Errorf("write message: %w", err))
	}
	if err := w.Close(); err != nil {
		return "", classifySMTP(fmt.Errorf("finish message: %w", err))
	}
	if err := c.Quit(); err != nil {
		// Delivery already succeeded; a failed QUIT is noise.
		_ = err
	}
	return env.MessageID, nil
}

// TestConnection implements Provider: dial, greet, authenticate, quit.
func (p *SMTPProvider) TestConnection(ctx context.Context) error {
	c, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Quit()
}

func (p *SMTPProvider) connect(ctx context.Context) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", p.Host, p.Port)
	dialer := &net.Dialer{Timeout: p.DialTimeout}

	var conn net.Conn
	var err error
	if p.Port == 465 {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: p.Host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, Transient(fmt.Errorf("connect %s: %w", addr, err))
	}

	c, err := smtp.NewClient(conn, p.Host)
	if err != nil {
		conn.Close()
		return nil, Transient(fmt.Errorf("smtp greeting: %w", err))
	}

	if p.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: p.Host}); err != nil {
				c.Close()
				return nil, Transient(fmt.Errorf("starttls: %w", err))
			}
		}
	}

	if p.Username != "" {
		auth := smtp.PlainAuth("", p.Username, p.Password, p.Host)
		if err := c.Auth(auth); err != nil {
			c.Close()
			// Bad credentials never fix themselves on retry.
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return c, nil
}

func allRecipients(env *Envelope) []string {
	out := make([]string, 0, len(env.To)+len(env.Cc)+len(env.Bcc))
	out = append(out, env.To...)
	out = append(out, env.Cc...)
	out = append(out, env.Bcc...)
	return out
}

// classifySMTP sorts a server rejection into transient (4xx) or permanent
// (5xx). Connection-level failures count as transient.
func classifySMTP(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return err
		}
		return Transient(err)
	}
	return Transient(err)
}
