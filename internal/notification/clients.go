package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
)

// Client delivers one notification over its channel.
type Client interface {
	Send(ctx context.Context, n *database.Notification) error
}

// EmailClient delivers email through SendGrid.
type EmailClient struct {
	cfg    config.EmailConfig
	client *sendgrid.Client
	logger *slog.Logger
}

// NewEmailClient creates a SendGrid-backed email client.
func NewEmailClient(cfg config.EmailConfig, logger *slog.Logger) *EmailClient {
	return &EmailClient{
		cfg:    cfg,
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
		logger: logger,
	}
}

// Send delivers the notification as a plain-text email.
func (c *EmailClient) Send(ctx context.Context, n *database.Notification) error {
	from := mail.NewEmail(c.cfg.FromName, c.cfg.FromAddress)
	to := mail.NewEmail("", n.Recipient)
	message := mail.NewSingleEmailPlainText(from, n.Subject, to, n.Body)

	resp, err := c.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}

	c.logger.Debug("Email sent", "notification_id", n.ID, "recipient", n.Recipient)
	return nil
}

// SMSClient delivers SMS through Twilio.
type SMSClient struct {
	cfg    config.SMSConfig
	client *twilio.RestClient
	logger *slog.Logger
}

// NewSMSClient creates a Twilio-backed SMS client.
func NewSMSClient(cfg config.SMSConfig, logger *slog.Logger) *SMSClient {
	return &SMSClient{
		cfg: cfg,
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioSID,
			Password: cfg.TwilioToken,
		}),
		logger: logger,
	}
}

// Send delivers the notification body as an SMS.
func (c *SMSClient) Send(ctx context.Context, n *database.Notification) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(n.Recipient)
	params.SetFrom(c.cfg.FromNumber)
	params.SetBody(n.Body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send failed: %w", err)
	}

	c.logger.Debug("SMS sent", "notification_id", n.ID, "recipient", n.Recipient)
	return nil
}

// WebhookClient posts events to a configured endpoint.
type WebhookClient struct {
	cfg    config.WebhookConfig
	client *resty.Client
	logger *slog.Logger
}

// NewWebhookClient creates the webhook client.
func NewWebhookClient(cfg config.WebhookConfig, logger *slog.Logger) *WebhookClient {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}

	return &WebhookClient{cfg: cfg, client: client, logger: logger}
}

// Send posts the event payload to the webhook URL.
func (c *WebhookClient) Send(ctx context.Context, n *database.Notification) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"event_kind":       n.EventKind,
			"complaint_id":     n.ComplaintID,
			"complaint_number": n.ComplaintNumber,
			"recipient_role":   n.RecipientRole,
			"subject":          n.Subject,
			"body":             n.Body,
			"created_at":       n.CreatedAt,
		}).
		Post(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	c.logger.Debug("Webhook delivered", "notification_id", n.ID, "event_kind", n.EventKind)
	return nil
}
