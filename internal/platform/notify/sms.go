// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// SMSSender posts messages to an HTTP SMS gateway.
//
// The gateway contract is a JSON body {"to","from","text"} authenticated with a
// bearer key; any 2xx status counts as accepted.
type SMSSender struct {
	gatewayURL string
	apiKey     string
	from       string
	client     *http.Client
}

// NewSMSSender creates a gateway sender. A nil client uses [http.DefaultClient].
func NewSMSSender(gatewayURL, apiKey, from string, client *http.Client) *SMSSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &SMSSender{gatewayURL: gatewayURL, apiKey: apiKey, from: from, client: client}
}

type smsPayload struct {
	To   string `json:"to"`
	From string `json:"from"`
	Text string `json:"text"`
}

// Send implements [Sender].
func (sender *SMSSender) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(smsPayload{To: message.To, From: sender.from, Text: message.Text})
	if err != nil {
		return fmt.Errorf("sms encode: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, sender.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+sender.apiKey)

	response, err := sender.client.Do(request)
	if err != nil {
		return fmt.Errorf("sms send: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("sms gateway returned status %d", response.StatusCode)
	}
	return nil
}
