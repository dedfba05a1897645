package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aldoetobex/weka-backend/internal/config"
)

/*
SMSClient wraps the bulk SMS REST gateway (Africa's Talking compatible).

POST {baseURL}/version1/messaging
  headers: apiKey, Accept: application/json
  form:    username, to, message, from (optional sender id)
*/
type SMSClient struct {
	baseURL  string
	username string
	apiKey   string
	senderID string
	client   *http.Client
}

// NewSMSClient returns nil when the gateway is not configured.
func NewSMSClient(cfg config.SMSConfig) *SMSClient {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.Username) == "" {
		return nil
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.africastalking.com"
	}
	return &SMSClient{
		baseURL:  base,
		username: cfg.Username,
		apiKey:   cfg.APIKey,
		senderID: cfg.SenderID,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type smsResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Number     string `json:"number"`
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// Send delivers one message to one phone number.
func (s *SMSClient) Send(ctx context.Context, phone, text string) error {
	to := FormatKenyanPhone(phone)
	if to == "" {
		return fmt.Errorf("sms: empty phone number")
	}

	form := url.Values{}
	form.Set("username", s.username)
	form.Set("to", to)
	form.Set("message", text)
	if s.senderID != "" {
		form.Set("from", s.senderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/version1/messaging", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", s.apiKey)

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("sms gateway error: %s | %s", res.Status, string(b))
	}

	var out smsResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("sms gateway response: %w", err)
	}
	if len(out.SMSMessageData.Recipients) == 0 {
		return fmt.Errorf("sms gateway rejected message: %s", out.SMSMessageData.Message)
	}
	// 100 Processed, 101 Sent, 102 Queued
	if rc := out.SMSMessageData.Recipients[0]; rc.StatusCode < 100 || rc.StatusCode > 102 {
		return fmt.Errorf("sms not accepted for %s: %s (%d)", rc.Number, rc.Status, rc.StatusCode)
	}
	return nil
}

// FormatKenyanPhone normalises local formats to E.164:
// "0712 345 678" -> "+254712345678", "254712345678" -> "+254712345678".
// Other inputs are returned with separators stripped.
func FormatKenyanPhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	p := b.String()
	switch {
	case p == "" || strings.HasPrefix(p, "+"):
		return p
	case strings.HasPrefix(p, "254"):
		return "+" + p
	case strings.HasPrefix(p, "0") && len(p) == 10:
		return "+254" + p[1:]
	case (strings.HasPrefix(p, "7") || strings.HasPrefix(p, "1")) && len(p) == 9:
		return "+254" + p
	}
	return p
}
