package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LeventeLantos/event-messaging/internal/model"
)

const DefaultTimeout = 30 * time.Second

type WhatsAppConfig struct {
	BaseURL       string
	APIVersion    string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration
}

// WhatsAppClient sends template messages through the WhatsApp Cloud API.
// It makes exactly one HTTP call per Send; retries belong to the caller.
type WhatsAppClient struct {
	url    string
	token  string
	client *http.Client
}

func NewWhatsAppClient(cfg WhatsAppConfig) *WhatsAppClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WhatsAppClient{
		url: fmt.Sprintf("%s/%s/%s/messages",
			strings.TrimRight(cfg.BaseURL, "/"),
			strings.Trim(cfg.APIVersion, "/"),
			cfg.PhoneNumberID,
		),
		token: cfg.AccessToken,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type templateRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

type templateBody struct {
	Name       string                    `json:"name"`
	Language   templateLanguage          `json:"language"`
	Components []model.TemplateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type sendResponse struct {
	Contacts []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID            string `json:"id"`
		MessageStatus string `json:"message_status"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		ErrorData    struct {
			Details string `json:"details"`
		} `json:"error_data"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// SendTemplate posts msg and returns the provider message id. msg.To must
// already be canonical.
func (c *WhatsAppClient) SendTemplate(ctx context.Context, msg model.TemplateMessage) (model.SendResult, error) {
	reqBody, err := json.Marshal(templateRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(msg.To, "+"),
		Type:             "template",
		Template: templateBody{
			Name:       msg.Name,
			Language:   templateLanguage{Code: msg.Language},
			Components: msg.Components,
		},
	})
	if err != nil {
		return model.SendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return model.SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return model.SendResult{}, &ExternalServiceError{
			Kind:    KindTransient,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.SendResult{}, decodeError(resp.StatusCode, body)
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return model.SendResult{}, &ExternalServiceError{
			StatusCode: resp.StatusCode,
			Kind:       KindPermanent,
			Message:    fmt.Sprintf("failed to decode json body=%q", string(body)),
			Err:        err,
		}
	}
	if len(sr.Messages) == 0 || sr.Messages[0].ID == "" {
		return model.SendResult{}, &ExternalServiceError{
			StatusCode: resp.StatusCode,
			Kind:       KindPermanent,
			Message:    fmt.Sprintf("missing message id in response body=%q", string(body)),
		}
	}

	out := model.SendResult{MessageID: sr.Messages[0].ID}
	if len(sr.Contacts) > 0 {
		out.WaID = sr.Contacts[0].WaID
	}
	return out, nil
}

func decodeError(status int, body []byte) *ExternalServiceError {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error.Code == 0 {
		return &ExternalServiceError{
			StatusCode: status,
			Kind:       kindForStatus(status),
			Message:    fmt.Sprintf("unexpected status code: %d body=%q", status, string(body)),
		}
	}
	return &ExternalServiceError{
		StatusCode: status,
		Code:       er.Error.Code,
		Subcode:    er.Error.ErrorSubcode,
		Message:    er.Error.Message,
		Details:    er.Error.ErrorData.Details,
		Kind:       kindForCode(er.Error.Code, status),
	}
}
