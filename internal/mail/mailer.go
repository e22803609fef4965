package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomail "gopkg.in/gomail.v2"

	"github.com/karigari/api/internal/domain"
)

// Logger defines the logging contract for mail delivery.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Mailer delivers transactional email to shoppers.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, msg OrderEmail) error
	SendOrderCancellation(ctx context.Context, msg OrderEmail) error
	SendPasswordResetOTP(ctx context.Context, msg OTPEmail) error
}

// OrderEmail carries the recipient and order snapshot for order notifications.
type OrderEmail struct {
	To       string
	UserName string
	Order    domain.Order
}

// OTPEmail carries the recipient and one-time code for password resets.
type OTPEmail struct {
	To       string
	UserName string
	OTP      string
	Expiry   time.Duration
}

// Sender abstracts SMTP delivery so tests can intercept outgoing messages.
type Sender interface {
	DialAndSend(msg ...*gomail.Message) error
}

// SMTPMailerConfig configures the SMTP-backed Mailer.
type SMTPMailerConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	Logger      Logger
	Sender      Sender
}

// SMTPMailer renders transactional templates and sends them over SMTP.
type SMTPMailer struct {
	sender   Sender
	from     string
	fromName string
	logger   Logger
}

// NewSMTPMailer constructs an SMTPMailer from the given configuration.
func NewSMTPMailer(cfg SMTPMailerConfig) (*SMTPMailer, error) {
	from := strings.TrimSpace(cfg.FromAddress)
	if from == "" {
		return nil, errors.New("mail: from address is required")
	}

	sender := cfg.Sender
	if sender == nil {
		host := strings.TrimSpace(cfg.Host)
		if host == "" {
			return nil, errors.New("mail: smtp host is required")
		}
		port := cfg.Port
		if port <= 0 {
			port = 587
		}
		sender = gomail.NewDialer(host, port, cfg.Username, cfg.Password)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &SMTPMailer{
		sender:   sender,
		from:     from,
		fromName: strings.TrimSpace(cfg.FromName),
		logger:   logger,
	}, nil
}

// SendOrderConfirmation emails the shopper after a verified payment.
func (m *SMTPMailer) SendOrderConfirmation(ctx context.Context, msg OrderEmail) error {
	body, err := renderOrderConfirmation(msg)
	if err != nil {
		return fmt.Errorf("mail: render confirmation: %w", err)
	}
	subject := fmt.Sprintf("Order Confirmed - %s", msg.Order.ID)
	if err := m.send(msg.To, subject, body); err != nil {
		return err
	}
	m.logger(ctx, "mail.order.confirmation.sent", map[string]any{
		"orderId": msg.Order.ID,
	})
	return nil
}

// SendOrderCancellation emails the shopper after an order is cancelled.
func (m *SMTPMailer) SendOrderCancellation(ctx context.Context, msg OrderEmail) error {
	body, err := renderOrderCancellation(msg)
	if err != nil {
		return fmt.Errorf("mail: render cancellation: %w", err)
	}
	subject := fmt.Sprintf("Order Cancelled - %s", msg.Order.ID)
	if err := m.send(msg.To, subject, body); err != nil {
		return err
	}
	m.logger(ctx, "mail.order.cancellation.sent", map[string]any{
		"orderId": msg.Order.ID,
	})
	return nil
}

// SendPasswordResetOTP emails a one-time code for password recovery.
func (m *SMTPMailer) SendPasswordResetOTP(ctx context.Context, msg OTPEmail) error {
	body, err := renderPasswordResetOTP(msg)
	if err != nil {
		return fmt.Errorf("mail: render otp: %w", err)
	}
	if err := m.send(msg.To, "Password Reset OTP", body); err != nil {
		return err
	}
	m.logger(ctx, "mail.password.otp.sent", map[string]any{})
	return nil
}

func (m *SMTPMailer) send(to, subject, htmlBody string) error {
	if m == nil || m.sender == nil {
		return errors.New("mail: mailer is not configured")
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("mail: recipient address is required")
	}

	message := gomail.NewMessage()
	if m.fromName != "" {
		message.SetAddressHeader("From", m.from, m.fromName)
	} else {
		message.SetHeader("From", m.from)
	}
	message.SetHeader("To", to)
	message.SetHeader("Subject", subject)
	message.SetBody("text/html", htmlBody)

	if err := m.sender.DialAndSend(message); err != nil {
		return fmt.Errorf("mail: send %q: %w", subject, err)
	}
	return nil
}
