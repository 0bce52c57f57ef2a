package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/mailgate/mailgate/internal/dkim"
	"github.com/mailgate/mailgate/internal/queue"
)

// Config contains smarthost connection settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	StartTLS bool
	Timeout  time.Duration
}

// Client delivers spooled messages to the configured smarthost
type Client struct {
	cfg      Config
	hostname string
	signer   *dkim.Signer
	logger   *slog.Logger
}

// NewClient creates a new smarthost client. hostname is used for HELO.
func NewClient(cfg Config, hostname string, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Client{
		cfg:      cfg,
		hostname: hostname,
		logger:   logger,
	}
}

// SetDKIMSigner sets the DKIM signer for outgoing messages
func (c *Client) SetDKIMSigner(signer *dkim.Signer) {
	c.signer = signer
}

// Send delivers a message to all its recipients in a single SMTP
// transaction with the smarthost.
func (c *Client) Send(ctx context.Context, msg *queue.Message) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	dialer := &net.Dialer{
		Timeout: c.cfg.Timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connection failed to %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}

	var client *smtp.Client
	if c.cfg.StartTLS {
		tlsConfig := &tls.Config{
			ServerName: c.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	} else {
		client = smtp.NewClient(conn)
	}
	defer client.Close()

	// After STARTTLS the hello state is reset, so this re-issues EHLO
	// with our hostname over the encrypted connection.
	if err := client.Hello(c.hostname); err != nil {
		return fmt.Errorf("HELO failed: %w", err)
	}

	if c.cfg.Username != "" {
		auth := sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH failed: %w", err)
		}
	}

	// Sign with DKIM if a signer is configured
	data := msg.Data
	if c.signer != nil {
		signed, err := c.signer.Sign(data)
		if err != nil {
			c.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", c.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	if err := client.Mail(msg.From, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	for _, recipient := range msg.To {
		if err := client.Rcpt(recipient, nil); err != nil {
			return fmt.Errorf("RCPT TO %s failed: %w", recipient, err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}

	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}

	if err := wc.Close(); err != nil {
		return fmt.Errorf("DATA close failed: %w", err)
	}

	client.Quit()

	c.logger.Info("message relayed",
		"smarthost", addr,
		"from", msg.From,
		"to", msg.To,
	)

	return nil
}
