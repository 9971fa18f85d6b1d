package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"whatsapp-inbox/internal/models"
)

// APIError is a non-2xx answer from the Graph API or the media host.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %d %s - %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Temporary reports whether retrying later could succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the WhatsApp Cloud API on behalf of an Account.
type Client struct {
	httpClient *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{httpClient: httpClient}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Context          *ContextObj  `json:"context,omitempty"`
	Text             *TextObj     `json:"text,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type ContextObj struct {
	MessageID string `json:"message_id"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	Parameters []ParameterObj `json:"parameters"`
}

type ParameterObj struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type readReceipt struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// MediaMetadata is the first hop of a media download.
type MediaMetadata struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// --- Helper ---

func (c *Client) sendRequest(ctx context.Context, account *models.Account, method, url string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+account.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return respBody, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// FormatNumber strips the '+' the Graph API rejects in recipient numbers.
func FormatNumber(number string) string {
	return strings.TrimPrefix(strings.TrimSpace(number), "+")
}

// SendRawMessage posts msg and returns the provider message id.
func (c *Client) SendRawMessage(ctx context.Context, account *models.Account, msg GenericMessage) (string, error) {
	if msg.MessagingProduct == "" {
		msg.MessagingProduct = "whatsapp"
	}
	url := fmt.Sprintf("%s/%s/messages", account.GraphBaseURL(), account.PhoneNumberID)
	resp, err := c.sendRequest(ctx, account, http.MethodPost, url, msg)
	if err != nil {
		return "", err
	}
	var out sendResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", fmt.Errorf("send response carried no message id")
	}
	return out.Messages[0].ID, nil
}

func (c *Client) SendText(ctx context.Context, account *models.Account, to, body, replyTo string) (string, error) {
	msg := GenericMessage{
		RecipientType: "individual",
		To:            FormatNumber(to),
		Type:          "text",
		Text:          &TextObj{Body: body},
	}
	if replyTo != "" {
		msg.Context = &ContextObj{MessageID: replyTo}
	}
	return c.SendRawMessage(ctx, account, msg)
}

func (c *Client) SendTemplate(ctx context.Context, account *models.Account, to, name, language string, params []string) (string, error) {
	tpl := &TemplateObj{Name: name, Language: LanguageObj{Code: language}}
	if len(params) > 0 {
		component := ComponentObj{Type: "body"}
		for _, p := range params {
			component.Parameters = append(component.Parameters, ParameterObj{Type: "text", Text: p})
		}
		tpl.Components = []ComponentObj{component}
	}
	return c.SendRawMessage(ctx, account, GenericMessage{
		To:       FormatNumber(to),
		Type:     "template",
		Template: tpl,
	})
}

// MarkRead sends a read receipt for an incoming message.
func (c *Client) MarkRead(ctx context.Context, account *models.Account, externalID string) error {
	url := fmt.Sprintf("%s/%s/messages", account.GraphBaseURL(), account.PhoneNumberID)
	_, err := c.sendRequest(ctx, account, http.MethodPost, url, readReceipt{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        externalID,
	})
	return err
}

// MediaMetadata resolves a media id to its short-lived download URL.
func (c *Client) MediaMetadata(ctx context.Context, account *models.Account, mediaID string) (*MediaMetadata, error) {
	url := fmt.Sprintf("%s/%s/", account.GraphBaseURL(), mediaID)
	resp, err := c.sendRequest(ctx, account, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var meta MediaMetadata
	if err := json.Unmarshal(resp, &meta); err != nil {
		return nil, fmt.Errorf("decode media metadata: %w", err)
	}
	return &meta, nil
}

// Download opens the media URL with the account's credentials. The caller
// closes the body.
func (c *Client) Download(ctx context.Context, account *models.Account, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+account.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}
