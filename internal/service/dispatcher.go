package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LeventeLantos/event-messaging/internal/client"
	"github.com/LeventeLantos/event-messaging/internal/model"
	"github.com/LeventeLantos/event-messaging/internal/phone"
	"github.com/LeventeLantos/event-messaging/internal/retry"
)

var ErrInvalidTemplate = errors.New("invalid template message")

type TemplateClient interface {
	SendTemplate(ctx context.Context, msg model.TemplateMessage) (model.SendResult, error)
}

// Dispatcher validates and sends template messages under a retry policy. It
// has no persistence side effects.
type Dispatcher struct {
	client   TemplateClient
	phones   *phone.Normalizer
	policy   retry.Policy
	language string
}

// NewDispatcher wires c with policy. A policy without a classifier uses
// client.Classify.
func NewDispatcher(c TemplateClient, phones *phone.Normalizer, policy retry.Policy, defaultLanguage string) *Dispatcher {
	if policy.Classify == nil {
		policy.Classify = client.Classify
	}
	return &Dispatcher{
		client:   c,
		phones:   phones,
		policy:   policy,
		language: defaultLanguage,
	}
}

func (d *Dispatcher) Send(ctx context.Context, msg model.TemplateMessage) (model.SendResult, error) {
	if strings.TrimSpace(msg.To) == "" {
		return model.SendResult{}, fmt.Errorf("%w: missing destination", ErrInvalidTemplate)
	}
	if strings.TrimSpace(msg.Name) == "" {
		return model.SendResult{}, fmt.Errorf("%w: missing template name", ErrInvalidTemplate)
	}

	to, err := d.phones.Normalize(msg.To)
	if err != nil {
		return model.SendResult{}, err
	}
	msg.To = to
	if msg.Language == "" {
		msg.Language = d.language
	}

	res, err := retry.Value(ctx, d.policy, func(ctx context.Context) (model.SendResult, error) {
		return d.client.SendTemplate(ctx, msg)
	})
	if err != nil {
		return model.SendResult{}, err
	}
	if res.MessageID == "" {
		return model.SendResult{}, &client.ExternalServiceError{
			Kind:    client.KindPermanent,
			Message: "accepted without message id",
		}
	}
	return res, nil
}
