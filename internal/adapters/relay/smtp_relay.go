package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/mikey/mailguard/internal/core"
	"go.uber.org/zap"
)

// SMTPRelay delivers released messages to the downstream MTA with go-smtp
type SMTPRelay struct {
	addr      string
	helo      string
	username  string
	password  string
	startTLS  bool
	tlsConfig *tls.Config
	timeout   time.Duration
	logger    *zap.Logger
}

// Options configures an SMTPRelay
type Options struct {
	Address  string
	Port     int
	Helo     string
	Username string
	Password string
	StartTLS bool
	Timeout  time.Duration
}

// NewSMTPRelay creates a relay for the given downstream server
func NewSMTPRelay(opts Options, logger *zap.Logger) *SMTPRelay {
	helo := opts.Helo
	if helo == "" {
		if hostname, err := os.Hostname(); err == nil {
			helo = hostname
		} else {
			helo = "localhost"
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPRelay{
		addr:      net.JoinHostPort(opts.Address, strconv.Itoa(opts.Port)),
		helo:      helo,
		username:  opts.Username,
		password:  opts.Password,
		startTLS:  opts.StartTLS,
		tlsConfig: &tls.Config{ServerName: opts.Address},
		timeout:   timeout,
		logger:    logger,
	}
}

// Deliver sends the envelope in a single SMTP transaction. It succeeds if at
// least one recipient was accepted.
func (r *SMTPRelay) Deliver(ctx context.Context, env *core.Envelope) error {
	if len(env.To) == 0 {
		return fmt.Errorf("no recipients")
	}

	dialer := &net.Dialer{Timeout: r.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to relay %s: %w", r.addr, err)
	}

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(r.helo); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}

	if r.startTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fmt.Errorf("relay %s does not support STARTTLS", r.addr)
		}
		if err := c.StartTLS(r.tlsConfig); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if r.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", r.username, r.password)); err != nil {
			return fmt.Errorf("AUTH failed: %w", err)
		}
	}

	if err := c.Mail(env.From, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	recipientOK := false
	for _, recipient := range env.To {
		if err := c.Rcpt(recipient, nil); err != nil {
			r.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", recipient),
				zap.Error(err))
		} else {
			recipientOK = true
		}
	}
	if !recipientOK {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(compose(env)); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		r.logger.Warn("QUIT command failed", zap.Error(err))
	}
	return nil
}

// compose renders the message. A body without separate headers is already a
// complete RFC 5322 message and is sent unchanged.
func compose(env *core.Envelope) []byte {
	if len(env.Headers) == 0 {
		return []byte(env.Body)
	}

	names := make([]string, 0, len(env.Headers))
	for name := range env.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		for _, v := range env.Headers[name] {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, v)
		}
	}
	buf.WriteString("\r\n")
	buf.WriteString(env.Body)
	return buf.Bytes()
}
