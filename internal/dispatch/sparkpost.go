package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/email-relay/internal/domain"
)

// SparkPostClient sends through the SparkPost Transmissions API.
type SparkPostClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewSparkPostClient creates a client targeting the SparkPost v1 API.
// baseURL is overridable for tests and EU tenants; empty means production.
func NewSparkPostClient(apiKey, baseURL string, timeout time.Duration) *SparkPostClient {
	if baseURL == "" {
		baseURL = "https://api.sparkpost.com/api/v1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SparkPostClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements ProviderClient.
func (c *SparkPostClient) Name() domain.ProviderType { return domain.ProviderSparkPost }

// Send implements ProviderClient.
func (c *SparkPostClient) Send(ctx context.Context, msg *domain.OutboundMessage) (*ProviderResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("SparkPost API key not configured")
	}

	recipients := make([]map[string]interface{}, 0, len(msg.To)+len(msg.CC)+len(msg.BCC))
	for _, to := range msg.To {
		recipients = append(recipients, map[string]interface{}{
			"address": map[string]string{"email": to},
		})
	}
	// SparkPost models cc/bcc as recipients addressed to the primary recipient
	headerTo := ""
	if len(msg.To) > 0 {
		headerTo = msg.To[0]
	}
	for _, cc := range msg.CC {
		recipients = append(recipients, map[string]interface{}{
			"address": map[string]string{"email": cc, "header_to": headerTo},
		})
	}
	for _, bcc := range msg.BCC {
		recipients = append(recipients, map[string]interface{}{
			"address": map[string]string{"email": bcc, "header_to": headerTo},
		})
	}

	content := map[string]interface{}{
		"from":    map[string]string{"email": msg.FromEmail, "name": msg.FromName},
		"subject": msg.Subject,
		"html":    msg.HTMLBody,
	}
	if msg.TextBody != "" {
		content["text"] = msg.TextBody
	}
	if msg.ReplyTo != "" {
		content["reply_to"] = msg.ReplyTo
	}
	if len(msg.Headers) > 0 {
		content["headers"] = msg.Headers
	}

	transmission := map[string]interface{}{
		"recipients": recipients,
		"content":    content,
	}
	if len(msg.Metadata) > 0 {
		transmission["metadata"] = msg.Metadata
	}
	if len(msg.Tags) > 0 {
		transmission["campaign_id"] = msg.Tags[0]
	}

	jsonData, err := json.Marshal(transmission)
	if err != nil {
		return nil, fmt.Errorf("marshal transmission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/transmissions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	out := &ProviderResponse{StatusCode: resp.StatusCode, Body: body}
	if resp.StatusCode == http.StatusTooManyRequests {
		out.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	if resp.StatusCode < 400 {
		var result struct {
			Results struct {
				ID string `json:"id"`
			} `json:"results"`
		}
		json.Unmarshal(body, &result)
		out.MessageID = result.Results.ID
	}
	return out, nil
}
