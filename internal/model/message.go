package model

import "time"

// MessageToken links a provider message id to the participant and event the
// message was sent for. Replies are correlated back through it.
type MessageToken struct {
	MessageID     string    `json:"messageId"`
	ParticipantID string    `json:"participantId"`
	EventID       string    `json:"eventId"`
	Phone         string    `json:"phone"`
	TemplateName  *string   `json:"templateName,omitempty"`
	Processed     bool      `json:"processed"`
	CreatedAt     time.Time `json:"createdAt"`
}

const (
	ComponentHeader = "header"
	ComponentBody   = "body"
	ComponentButton = "button"

	ParameterText    = "text"
	ParameterPayload = "payload"
)

type TemplateParameter struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Payload string `json:"payload,omitempty"`
}

type TemplateComponent struct {
	Type       string              `json:"type"`
	SubType    string              `json:"sub_type,omitempty"`
	Index      string              `json:"index,omitempty"`
	Parameters []TemplateParameter `json:"parameters"`
}

// TemplateMessage is a pre-approved template addressed to one recipient.
type TemplateMessage struct {
	To         string              `json:"to"`
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

type SendResult struct {
	MessageID string `json:"messageId"`
	WaID      string `json:"waId,omitempty"`
}

// TextParams builds a component whose parameters are plain text substitutions.
func TextParams(componentType string, values ...string) TemplateComponent {
	c := TemplateComponent{Type: componentType}
	for _, v := range values {
		c.Parameters = append(c.Parameters, TemplateParameter{Type: ParameterText, Text: v})
	}
	return c
}

// QuickReply builds the button component carrying the payload returned when
// the recipient taps the button at index.
func QuickReply(index, payload string) TemplateComponent {
	return TemplateComponent{
		Type:    ComponentButton,
		SubType: "quick_reply",
		Index:   index,
		Parameters: []TemplateParameter{
			{Type: ParameterPayload, Payload: payload},
		},
	}
}
