package notifications

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const opTrigger = "notifications.trigger"

// Notifier fans a notification event out to its recipients.
type Notifier interface {
	Notify(ctx context.Context, event Event) (Dispatch, error)
}

// MemberLister lists the members of a workspace.
type MemberLister interface {
	MemberIDs(ctx context.Context, workspaceID string) ([]string, error)
}

// Actor is the user whose action produced a notification.
type Actor struct {
	ID   string
	Name string
}

func (a Actor) label() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return "Someone"
}

// Triggers turns workspace activity into notification events.
type Triggers struct {
	notifier Notifier
	members  MemberLister
	logger   *zap.Logger
}

// NewTriggers fans domain events out through notifier to the members
// reported by members.
func NewTriggers(notifier Notifier, members MemberLister, logger *zap.Logger) *Triggers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Triggers{notifier: notifier, members: members, logger: logger}
}

// WorkspaceLink is the client route of a workspace.
func WorkspaceLink(workspaceID string) string {
	return "/workspace/" + strings.TrimSpace(workspaceID)
}

// WorkspaceJoined tells the workspace owner that actor joined.
func (t *Triggers) WorkspaceJoined(ctx context.Context, workspaceID, workspaceName, ownerID string, actor Actor) (Dispatch, error) {
	return t.notifier.Notify(ctx, Event{
		Kind:        KindWorkspaceJoined,
		SenderID:    actor.ID,
		Recipients:  []string{ownerID},
		Message:     fmt.Sprintf("%s joined %s", actor.label(), workspaceName),
		Link:        WorkspaceLink(workspaceID),
		WorkspaceID: workspaceID,
	})
}

// DocumentCreated tells every other workspace member about a new document.
func (t *Triggers) DocumentCreated(ctx context.Context, workspaceID, title string, actor Actor) (Dispatch, error) {
	return t.notifyMembers(ctx, workspaceID, actor, KindDocumentCreated,
		fmt.Sprintf("%s created the document %q", actor.label(), title))
}

// FileUploaded tells every other workspace member about an uploaded file.
func (t *Triggers) FileUploaded(ctx context.Context, workspaceID, fileName string, actor Actor) (Dispatch, error) {
	return t.notifyMembers(ctx, workspaceID, actor, KindFileUploaded,
		fmt.Sprintf("%s uploaded %s", actor.label(), fileName))
}

// ChatMessageSent tells every other workspace member about a chat message.
func (t *Triggers) ChatMessageSent(ctx context.Context, workspaceID, content string, actor Actor) (Dispatch, error) {
	return t.notifyMembers(ctx, workspaceID, actor, KindChatMessage,
		fmt.Sprintf("%s: %s", actor.label(), preview(content)))
}

// TaskAssigned tells the assignee of a new task. A task without an assignee notifies nobody.
func (t *Triggers) TaskAssigned(ctx context.Context, workspaceID, title, assigneeID string, actor Actor) (Dispatch, error) {
	if strings.TrimSpace(assigneeID) == "" {
		return Dispatch{}, nil
	}
	return t.notifier.Notify(ctx, Event{
		Kind:        KindTaskAssigned,
		SenderID:    actor.ID,
		Recipients:  []string{assigneeID},
		Message:     fmt.Sprintf("%s assigned you the task %q", actor.label(), title),
		Link:        WorkspaceLink(workspaceID),
		WorkspaceID: workspaceID,
	})
}

// TaskReassigned notifies the new assignee only when the assignee actually changed.
func (t *Triggers) TaskReassigned(ctx context.Context, workspaceID, title, previousAssigneeID, assigneeID string, actor Actor) (Dispatch, error) {
	if strings.TrimSpace(previousAssigneeID) == strings.TrimSpace(assigneeID) {
		return Dispatch{}, nil
	}
	return t.TaskAssigned(ctx, workspaceID, title, assigneeID, actor)
}

func (t *Triggers) notifyMembers(ctx context.Context, workspaceID string, actor Actor, kind Kind, message string) (Dispatch, error) {
	memberIDs, err := t.members.MemberIDs(ctx, workspaceID)
	if err != nil {
		t.logger.Error("notification recipients lookup failed",
			zap.String("operation", opTrigger),
			zap.String("kind", string(kind)),
			zap.String("workspace_id", workspaceID),
			zap.Error(err))
		return Dispatch{}, err
	}
	return t.notifier.Notify(ctx, Event{
		Kind:        kind,
		SenderID:    actor.ID,
		Recipients:  memberIDs,
		Message:     message,
		Link:        WorkspaceLink(workspaceID),
		WorkspaceID: workspaceID,
	})
}

const previewLimit = 80

func preview(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit]) + "..."
}
