package notify

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/wneessen/go-mail"
)

// MailConfig describes the SMTP relay.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds the dial and every SMTP round trip.
	Timeout time.Duration
}

// Mail sends plain-text mail through an SMTP relay.
type Mail struct {
	cfg  MailConfig
	send func(ctx context.Context, msg *mail.Msg) error
}

func NewMail(cfg MailConfig) *Mail {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	m := &Mail{cfg: cfg}
	m.send = m.dialAndSend
	return m
}

func (m *Mail) Name() string { return "mail" }

func (m *Mail) Send(ctx context.Context, msg Message) error {
	if msg.Email == "" {
		return &PermanentError{Reason: "no_recipient", Err: errors.New("user has no email")}
	}

	out := mail.NewMsg()
	if err := out.From(m.cfg.From); err != nil {
		return &PermanentError{Reason: "bad_sender", Err: err}
	}
	if err := out.To(msg.Email); err != nil {
		return &PermanentError{Reason: "bad_recipient", Err: err}
	}
	out.Subject(msg.Subject)
	out.SetDate()
	out.SetBodyString(mail.TypeTextPlain, msg.Text)

	if err := ctx.Err(); err != nil {
		return err
	}

	err := m.send(ctx, out)
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && !sendErr.IsTemp() {
		return &PermanentError{Reason: "smtp_rejected", Err: err}
	}
	return err
}

func (m *Mail) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTimeout(m.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithDialContextFunc(deadlineDialer(m.cfg.Timeout)),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return &PermanentError{Reason: "bad_config", Err: err}
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// deadlineDialer puts a deadline on the whole connection so a relay that
// accepts and then stays silent cannot hold the sender.
func deadlineDialer(timeout time.Duration) mail.DialContextFunc {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		deadline := time.Now().Add(timeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}
