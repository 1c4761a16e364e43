package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WhatsAppConfig configures the Twilio messaging channel.
type WhatsAppConfig struct {
	APIBaseURL         string
	AccountSID         string
	AuthToken          string
	From               string
	DefaultCountryCode string
	Timeout            time.Duration
	RetryBackoff       time.Duration
}

// WhatsAppNotifier sends messages through the Twilio Messages REST API.
type WhatsAppNotifier struct {
	cfg    WhatsAppConfig
	client *http.Client
}

// NewWhatsAppNotifier creates the WhatsApp channel. A nil client uses a
// default one.
func NewWhatsAppNotifier(cfg WhatsAppConfig, client *http.Client) *WhatsAppNotifier {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.twilio.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &WhatsAppNotifier{cfg: cfg, client: client}
}

func (n *WhatsAppNotifier) Name() string { return "whatsapp" }

// Configured reports whether credentials are present.
func (n *WhatsAppNotifier) Configured() bool {
	return n.cfg.AccountSID != "" && n.cfg.AuthToken != "" && n.cfg.From != ""
}

// Notify sends msg to msg.Phone.
func (n *WhatsAppNotifier) Notify(ctx context.Context, msg Message) error {
	if !n.Configured() {
		return ErrNotConfigured
	}
	to := NormalizePhone(msg.Phone, n.cfg.DefaultCountryCode)
	if to == "" {
		return Permanent(errors.New("recipient phone is empty"))
	}

	form := url.Values{}
	form.Set("From", whatsAppAddress(n.cfg.From))
	form.Set("To", whatsAppAddress(to))
	form.Set("Body", whatsAppBody(msg.Details, msg.MediaURL != ""))
	if msg.MediaURL != "" {
		form.Set("MediaUrl", msg.MediaURL)
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(n.cfg.APIBaseURL, "/"), url.PathEscape(n.cfg.AccountSID))

	return retryOnce(ctx, n.cfg.Timeout, n.cfg.RetryBackoff, func(ctx context.Context) error {
		return n.post(ctx, endpoint, form)
	})
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (n *WhatsAppNotifier) post(ctx context.Context, endpoint string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Permanent(err)
	}
	req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail := resp.Status
	var te twilioError
	if body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); json.Unmarshal(body, &te) == nil && te.Message != "" {
		detail = fmt.Sprintf("%s: %s (code %d)", resp.Status, te.Message, te.Code)
	}
	err = fmt.Errorf("whatsapp send rejected: %s", detail)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return Permanent(err)
}

func whatsAppAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
