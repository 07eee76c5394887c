// Package alert posts ledger integrity and benchmark failures to a Slack webhook.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Manager is a no-op unless enabled with a webhook.
type Manager struct {
	enabled      bool
	slackWebhook string
	node         string
	httpClient   HTTPClient
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func NewManager(enabled bool, slackWebhook, node string) *Manager {
	return NewManagerWithClient(enabled, slackWebhook, node, &http.Client{Timeout: 10 * time.Second})
}

func NewManagerWithClient(enabled bool, slackWebhook, node string, client HTTPClient) *Manager {
	return &Manager{
		enabled:      enabled,
		slackWebhook: slackWebhook,
		node:         node,
		httpClient:   client,
	}
}

func (m *Manager) active() bool {
	return m != nil && m.enabled && m.slackWebhook != ""
}

// SendChainBrokenAlert reports a chain entry whose stored hash does not match the
// recomputed link.
func (m *Manager) SendChainBrokenAlert(ctx context.Context, sequenceNum uint64, txID, expectedHash, actualHash string) error {
	if !m.active() {
		return nil
	}

	msg := slackMessage{
		Text: "*LEDGER CHAIN INTEGRITY VIOLATION*",
		Attachments: []slackAttachment{
			{
				Color: "danger",
				Title: "Transaction Chain Broken",
				Fields: []slackField{
					{Title: "Node", Value: m.node, Short: true},
					{Title: "Sequence", Value: fmt.Sprintf("%d", sequenceNum), Short: true},
					{Title: "Transaction", Value: txID, Short: false},
					{Title: "Expected Hash", Value: expectedHash, Short: false},
					{Title: "Actual Hash", Value: actualHash, Short: false},
				},
				Footer: "clinledger chain verifier",
				Ts:     time.Now().Unix(),
			},
		},
	}

	return m.sendSlackMessage(ctx, msg)
}

// SendSystemAlert accepts severity "danger", "warning" or "good".
func (m *Manager) SendSystemAlert(ctx context.Context, title, message, severity string) error {
	if !m.active() {
		return nil
	}

	color := "danger"
	if severity == "warning" || severity == "good" {
		color = severity
	}

	msg := slackMessage{
		Text: fmt.Sprintf("*SYSTEM ALERT: %s*", title),
		Attachments: []slackAttachment{
			{
				Color: color,
				Title: title,
				Fields: []slackField{
					{Title: "Node", Value: m.node, Short: true},
					{Title: "Message", Value: message, Short: false},
				},
				Footer: "clinledger",
				Ts:     time.Now().Unix(),
			},
		},
	}

	return m.sendSlackMessage(ctx, msg)
}

func (m *Manager) sendSlackMessage(ctx context.Context, msg slackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.slackWebhook, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned non-200 status: %d", resp.StatusCode)
	}

	return nil
}
