// Package mail delivers auth codes over SMTP.
package mail

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	gomail "github.com/wneessen/go-mail"

	auth "github.com/service-laboratory/lab-auth"
)

// AuthCodeSubject is the subject of every auth code email
const AuthCodeSubject = "Account auth code"

// Sender delivers a plain text email
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig holds the server settings
type SMTPConfig struct {
	Host     string
	Port     int
	Login    string
	Password string
	// From defaults to Login
	From string
}

// SMTPSender sends through a single SMTP server with STARTTLS when
// the server offers it.
type SMTPSender struct {
	cfg  SMTPConfig
	opts []gomail.Option
}

var _ Sender = (*SMTPSender)(nil)

func NewSMTPSender(cfg SMTPConfig, opts ...gomail.Option) *SMTPSender {
	if cfg.From == "" {
		cfg.From = cfg.Login
	}
	return &SMTPSender{cfg: cfg, opts: opts}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	msg, err := BuildMessage(s.cfg.From, to, subject, body)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.cfg.Login),
		gomail.WithPassword(s.cfg.Password),
	}
	if s.cfg.Port > 0 {
		opts = append(opts, gomail.WithPort(s.cfg.Port))
	}
	opts = append(opts, s.opts...)

	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create smtp client")
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to send email").
			WithMetadata(map[string]any{"host": s.cfg.Host})
	}

	return nil
}

// BuildMessage creates a plain text message
func BuildMessage(from, to, subject, body string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()

	if err := msg.From(from); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid sender address")
	}
	if err := msg.To(to); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid recipient address").
			WithMetadata(map[string]any{"to": to})
	}

	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	return msg, nil
}

// AuthCodeNotifier listens to auth.EventSendAuthCode and emails the
// code with a link to the reset page.
type AuthCodeNotifier struct {
	sender   Sender
	resetURL string
	debug    bool
	logger   auth.Logger
}

func NewAuthCodeNotifier(sender Sender, resetURL string) *AuthCodeNotifier {
	return &AuthCodeNotifier{
		sender:   sender,
		resetURL: resetURL,
		logger:   nopLogger{},
	}
}

// WithDebug turns delivery off, codes are only logged
func (n *AuthCodeNotifier) WithDebug(debug bool) *AuthCodeNotifier {
	n.debug = debug
	return n
}

func (n *AuthCodeNotifier) WithLogger(logger auth.Logger) *AuthCodeNotifier {
	if logger != nil {
		n.logger = logger
	}
	return n
}

// Body is the text sent for code
func (n *AuthCodeNotifier) Body(code string) string {
	return n.resetURL + "\nCode: " + code
}

// Handle implements auth.EventListener
func (n *AuthCodeNotifier) Handle(ctx context.Context, args ...any) error {
	email, code, err := auth.AuthCodeArgs(args...)
	if err != nil {
		return err
	}
	return n.Notify(ctx, email, code)
}

// Notify sends code to email
func (n *AuthCodeNotifier) Notify(ctx context.Context, email, code string) error {
	if n.debug {
		n.logger.Info("debug mode, auth code for %s is %s", email, code)
		return nil
	}
	return n.sender.Send(ctx, email, AuthCodeSubject, n.Body(code))
}

// Register subscribes the notifier on emitter
func (n *AuthCodeNotifier) Register(emitter *auth.AsyncEmitter) *auth.AsyncEmitter {
	return emitter.On(auth.EventSendAuthCode, n.Handle)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
