package webhook

import "strconv"

type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Event is one classified webhook record. The set of implementations is
// closed; switch on the concrete type.
type Event interface {
	isEvent()
}

type StatusUpdate struct {
	MessageID string
	Phone     string
	Status    DeliveryStatus
	Errors    []StatusError
}

// ButtonReply is a quick-reply template button press. ContextMessageID is the
// id of the message the button belonged to; MessageID is a new id.
type ButtonReply struct {
	MessageID        string
	Phone            string
	Text             string
	Payload          string
	ContextMessageID string
}

// InteractiveButtonReply is the legacy interactive shape.
type InteractiveButtonReply struct {
	MessageID        string
	Phone            string
	ButtonID         string
	ButtonTitle      string
	ContextMessageID string
}

type ListReply struct {
	MessageID        string
	Phone            string
	RowID            string
	RowTitle         string
	ContextMessageID string
}

type TextMessage struct {
	MessageID string
	Phone     string
	Body      string
}

type Unrecognized struct {
	MessageID string
	Reason    string
}

func (StatusUpdate) isEvent()           {}
func (ButtonReply) isEvent()            {}
func (InteractiveButtonReply) isEvent() {}
func (ListReply) isEvent()              {}
func (TextMessage) isEvent()            {}
func (Unrecognized) isEvent()           {}

// Batch holds the classified contents of one change record.
type Batch struct {
	Messages []Event
	Statuses []Event
}

// HasMessages reports whether the change carried at least one recognized
// message event alongside its statuses.
func (b Batch) HasMessages() bool {
	for _, m := range b.Messages {
		if _, ok := m.(Unrecognized); !ok {
			return true
		}
	}
	return false
}

func Classify(v Value) Batch {
	var b Batch
	for _, m := range v.Messages {
		b.Messages = append(b.Messages, classifyMessage(m))
	}
	for _, s := range v.Statuses {
		b.Statuses = append(b.Statuses, classifyStatus(s))
	}
	return b
}

func classifyMessage(m Message) Event {
	if m.ID == "" || m.From == "" {
		return Unrecognized{MessageID: m.ID, Reason: "message without id or sender"}
	}

	contextID := ""
	if m.Context != nil {
		contextID = m.Context.ID
	}

	switch {
	case m.Button != nil:
		return ButtonReply{
			MessageID:        m.ID,
			Phone:            m.From,
			Text:             m.Button.Text,
			Payload:          m.Button.Payload,
			ContextMessageID: contextID,
		}
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return InteractiveButtonReply{
			MessageID:        m.ID,
			Phone:            m.From,
			ButtonID:         m.Interactive.ButtonReply.ID,
			ButtonTitle:      m.Interactive.ButtonReply.Title,
			ContextMessageID: contextID,
		}
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return ListReply{
			MessageID:        m.ID,
			Phone:            m.From,
			RowID:            m.Interactive.ListReply.ID,
			RowTitle:         m.Interactive.ListReply.Title,
			ContextMessageID: contextID,
		}
	case m.Text != nil:
		return TextMessage{MessageID: m.ID, Phone: m.From, Body: m.Text.Body}
	}
	return Unrecognized{MessageID: m.ID, Reason: "unsupported message type " + strconv.Quote(m.Type)}
}

func classifyStatus(s Status) Event {
	if s.ID == "" {
		return Unrecognized{Reason: "status without message id"}
	}
	switch st := DeliveryStatus(s.Status); st {
	case StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return StatusUpdate{
			MessageID: s.ID,
			Phone:     s.RecipientID,
			Status:    st,
			Errors:    s.Errors,
		}
	}
	return Unrecognized{MessageID: s.ID, Reason: "unknown status " + strconv.Quote(s.Status)}
}
