package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MailpitClient reads the Mailpit REST API.
type MailpitClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMailpitClient creates a new Mailpit API client.
func NewMailpitClient(host string, port int) *MailpitClient {
	return &MailpitClient{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// MailpitMessage represents an email message in Mailpit.
type MailpitMessage struct {
	ID      string           `json:"ID"`
	From    MailpitAddress   `json:"From"`
	To      []MailpitAddress `json:"To"`
	Subject string           `json:"Subject"`
	Text    string           `json:"-"` // populated by GetMessageByID
}

// MailpitAddress represents an email address.
type MailpitAddress struct {
	Address string `json:"Address"`
	Name    string `json:"Name"`
}

type messagesResponse struct {
	Messages []MailpitMessage `json:"messages"`
	Total    int              `json:"messages_count"`
}

// GetMessages returns all messages in the inbox.
func (c *MailpitClient) GetMessages() ([]MailpitMessage, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/v1/messages")
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get messages: status %d: %s", resp.StatusCode, body)
	}

	var result messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return result.Messages, nil
}

// GetMessageByID returns a single message with its plain text body.
func (c *MailpitClient) GetMessageByID(id string) (*MailpitMessage, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/v1/message/" + id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get message: status %d", resp.StatusCode)
	}

	var msg MailpitMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	textResp, err := c.httpClient.Get(c.baseURL + "/api/v1/message/" + id + "/part/0")
	if err == nil {
		defer func() { _ = textResp.Body.Close() }()
		if textResp.StatusCode == http.StatusOK {
			body, _ := io.ReadAll(textResp.Body)
			msg.Text = string(body)
		}
	}

	return &msg, nil
}

// DeleteAllMessages clears the inbox.
func (c *MailpitClient) DeleteAllMessages() error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/api/v1/messages", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete messages: status %d", resp.StatusCode)
	}
	return nil
}

// WaitForMessages waits until at least count messages are received.
func (c *MailpitClient) WaitForMessages(count int, timeout time.Duration) ([]MailpitMessage, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		messages, err := c.GetMessages()
		if err != nil {
			lastErr = err
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if len(messages) >= count {
			return messages, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	messages, _ := c.GetMessages()
	if lastErr != nil {
		return messages, fmt.Errorf("timeout waiting for %d messages (got %d): %w", count, len(messages), lastErr)
	}
	return messages, fmt.Errorf("timeout waiting for %d messages, got %d", count, len(messages))
}
