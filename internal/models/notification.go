// internal/models/notification.go
package models

import "time"

// NotificationType identifies the business event that produced a notification.
type NotificationType string

const (
	TypeMembershipApproved NotificationType = "membership_approved"
	TypeMembershipRejected NotificationType = "membership_rejected"
	TypePostComment        NotificationType = "post_comment"
	TypeCommentReply       NotificationType = "comment_reply"
	TypeEventReminder      NotificationType = "event_reminder"
	TypeAnnouncement       NotificationType = "announcement"
)

// PreferenceKey is the key under which a notification type can be toggled
// in a user's preference map.
func (t NotificationType) PreferenceKey() string {
	return string(t)
}

// KnownTypes lists every notification type the pipeline understands.
// New preference records are created with all of these enabled.
func KnownTypes() []NotificationType {
	return []NotificationType{
		TypeMembershipApproved,
		TypeMembershipRejected,
		TypePostComment,
		TypeCommentReply,
		TypeEventReminder,
		TypeAnnouncement,
	}
}

// PushStatus is the delivery outcome persisted on a notification record.
type PushStatus string

const (
	PushStatusPending PushStatus = "PENDING"
	PushStatusOK      PushStatus = "OK"
	PushStatusError   PushStatus = "ERROR"
)

// NotificationEvent is the transient queue payload. It is immutable once
// enqueued; the pipeline never mutates it.
type NotificationEvent struct {
	OrgID             string                 `json:"orgId"`
	UserID            string                 `json:"userId"`
	NotificationType  NotificationType       `json:"notificationType"`
	Title             string                 `json:"title"`
	Body              string                 `json:"body"`
	RelatedEntityType string                 `json:"relatedEntityType,omitempty"`
	RelatedEntityID   string                 `json:"relatedEntityId,omitempty"`
	Data              map[string]interface{} `json:"data,omitempty"`
}

// NotificationRecord is the persisted notification. Created exactly once per
// processed event; only the push status fields are mutated afterwards.
type NotificationRecord struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"userId"`
	Type         NotificationType       `json:"type"`
	Title        string                 `json:"title"`
	Body         string                 `json:"body"`
	IsRead       bool                   `json:"isRead"`
	PushSent     bool                   `json:"pushSent"`
	PushStatus   PushStatus             `json:"pushStatus"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}
