package notification

import (
	"context"
	"errors"
	"fmt"

	"appraisal-fulfillment/pkg/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service", fx.Provide(NewService))

var ErrNoRecipient = errors.New("notification: recipient email is empty")

// Notification is one templated email.
type Notification struct {
	ToEmail string
	ToName  string
	// TemplateID overrides the configured default template.
	TemplateID string
	Data       map[string]interface{}
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To                  []address              `json:"to"`
	DynamicTemplateData map[string]interface{} `json:"dynamic_template_data,omitempty"`
}

type mailSend struct {
	From             address           `json:"from"`
	Personalizations []personalization `json:"personalizations"`
	TemplateID       string            `json:"template_id"`
}

// Sender delivers dynamic-template email through the SendGrid v3 API.
type Sender struct {
	client     *resty.Client
	endpoint   string
	from       address
	templateID string
	bulkTmplID string
}

func NewService(cfg *config.Config) *Sender {
	client := resty.New().
		SetAuthToken(cfg.Email.APIKey).
		SetHeader("Content-Type", "application/json")
	return NewSender(client, cfg.Email.APIURL, cfg.Email.FromEmail, cfg.Email.FromName, cfg.Email.TemplateID, cfg.Email.BulkTmplID)
}

func NewSender(client *resty.Client, endpoint, fromEmail, fromName, templateID, bulkTemplateID string) *Sender {
	return &Sender{
		client:     client,
		endpoint:   endpoint,
		from:       address{Email: fromEmail, Name: fromName},
		templateID: templateID,
		bulkTmplID: bulkTemplateID,
	}
}

// BulkTemplateID is the template for bulk confirmations, falling back to the default.
func (s *Sender) BulkTemplateID() string {
	if s.bulkTmplID != "" {
		return s.bulkTmplID
	}
	return s.templateID
}

func (s *Sender) Send(ctx context.Context, n Notification) error {
	if n.ToEmail == "" {
		return ErrNoRecipient
	}
	tmpl := n.TemplateID
	if tmpl == "" {
		tmpl = s.templateID
	}

	body := mailSend{
		From: s.from,
		Personalizations: []personalization{{
			To:                  []address{{Email: n.ToEmail, Name: n.ToName}},
			DynamicTemplateData: n.Data,
		}},
		TemplateID: tmpl,
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(s.endpoint)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send email: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
