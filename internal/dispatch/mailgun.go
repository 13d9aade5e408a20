package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/email-relay/internal/domain"
)

// MailgunClient sends through the Mailgun Messages API.
type MailgunClient struct {
	apiKey  string
	domain  string
	baseURL string
	client  *http.Client
}

// NewMailgunClient creates a Mailgun client targeting the given sending
// domain. baseURL excludes the API version segment, which the client appends.
func NewMailgunClient(apiKey, baseURL, sendingDomain string, timeout time.Duration) *MailgunClient {
	if baseURL == "" {
		baseURL = "https://api.mailgun.net"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MailgunClient{
		apiKey:  apiKey,
		domain:  sendingDomain,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements ProviderClient.
func (c *MailgunClient) Name() domain.ProviderType { return domain.ProviderMailgun }

// Send implements ProviderClient.
func (c *MailgunClient) Send(ctx context.Context, msg *domain.OutboundMessage) (*ProviderResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("Mailgun API key not configured")
	}

	form := url.Values{}
	form.Add("from", fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail))
	for _, to := range msg.To {
		form.Add("to", to)
	}
	for _, cc := range msg.CC {
		form.Add("cc", cc)
	}
	for _, bcc := range msg.BCC {
		form.Add("bcc", bcc)
	}
	form.Add("subject", msg.Subject)
	form.Add("html", msg.HTMLBody)
	if msg.TextBody != "" {
		form.Add("text", msg.TextBody)
	}
	if msg.ReplyTo != "" {
		form.Add("h:Reply-To", msg.ReplyTo)
	}
	for _, tag := range msg.Tags {
		form.Add("o:tag", tag)
	}
	for k, v := range msg.Metadata {
		form.Add("v:"+k, v)
	}
	for k, v := range msg.Headers {
		form.Add("h:"+k, v)
	}

	endpoint := fmt.Sprintf("%s/v3/%s/messages", c.baseURL, c.domain)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", c.apiKey)

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
			ID string `json:"id"`
		}
		json.Unmarshal(body, &result)
		out.MessageID = strings.Trim(result.ID, "<>")
	}
	return out, nil
}
