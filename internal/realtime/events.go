package realtime

import (
	"encoding/json"
	"time"
)

// EventName identifies an outbound frame.
type EventName string

const (
	EventReceiveMessage  EventName = "receive_message"
	EventMessageDeleted  EventName = "message_deleted"
	EventMessagesDeleted EventName = "messages_deleted"
	EventTaskCreated     EventName = "task_created"
	EventTaskUpdated     EventName = "task_updated"
	EventTaskDeleted     EventName = "task_deleted"
	EventDocumentUpdate  EventName = "document_update"
	EventNewNotification EventName = "new_notification"
)

// Event is the closed set of frames the server pushes to connections.
// The unexported payload method keeps other packages from adding cases.
type Event interface {
	Name() EventName
	payload() any
}

// Frame is the wire envelope written to a connection.
type Frame struct {
	Event   EventName       `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Encode renders an event into its wire frame.
func Encode(event Event) (Frame, error) {
	raw, err := json.Marshal(event.payload())
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event.Name(), Payload: raw}, nil
}

// UserSummary is the populated view of a user embedded in payloads.
type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"profilePicture,omitempty"`
}

// ChatMessage is the payload of receive_message.
type ChatMessage struct {
	ID          string      `json:"id"`
	WorkspaceID string      `json:"workspace"`
	Sender      UserSummary `json:"sender"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// TaskSnapshot is the payload of task_created and task_updated.
type TaskSnapshot struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	AssignedTo  string    `json:"assignedTo,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NotificationPayload is the payload of new_notification.
type NotificationPayload struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	RecipientID string    `json:"recipient"`
	SenderID    string    `json:"sender"`
	WorkspaceID string    `json:"workspace,omitempty"`
	Message     string    `json:"message"`
	Link        string    `json:"link,omitempty"`
	Read        bool      `json:"readStatus"`
	CreatedAt   time.Time `json:"createdAt"`
}

type ReceiveMessage struct{ Message ChatMessage }

func (ReceiveMessage) Name() EventName { return EventReceiveMessage }
func (e ReceiveMessage) payload() any  { return e.Message }

type MessageDeleted struct{ MessageID string }

func (MessageDeleted) Name() EventName { return EventMessageDeleted }
func (e MessageDeleted) payload() any  { return e.MessageID }

type MessagesDeleted struct{ MessageIDs []string }

func (MessagesDeleted) Name() EventName { return EventMessagesDeleted }
func (e MessagesDeleted) payload() any {
	if e.MessageIDs == nil {
		return []string{}
	}
	return e.MessageIDs
}

type TaskCreated struct{ Task TaskSnapshot }

func (TaskCreated) Name() EventName { return EventTaskCreated }
func (e TaskCreated) payload() any  { return e.Task }

type TaskUpdated struct{ Task TaskSnapshot }

func (TaskUpdated) Name() EventName { return EventTaskUpdated }
func (e TaskUpdated) payload() any  { return e.Task }

type TaskDeleted struct{ TaskID string }

func (TaskDeleted) Name() EventName { return EventTaskDeleted }
func (e TaskDeleted) payload() any  { return e.TaskID }

// DocumentUpdate carries the full editor delta of a document.
type DocumentUpdate struct {
	DocumentID string
	Delta      json.RawMessage
}

type documentUpdatePayload struct {
	DocumentID string          `json:"documentId"`
	Delta      json.RawMessage `json:"delta"`
}

func (DocumentUpdate) Name() EventName { return EventDocumentUpdate }
func (e DocumentUpdate) payload() any {
	return documentUpdatePayload{DocumentID: e.DocumentID, Delta: e.Delta}
}

type NewNotification struct{ Notification NotificationPayload }

func (NewNotification) Name() EventName { return EventNewNotification }
func (e NewNotification) payload() any  { return e.Notification }
