package notification

import (
	"time"

	"github.com/google/uuid"
)

// Type is the severity a client uses to style a notification.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

func (t Type) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError:
		return true
	}
	return false
}

// Audience records which role a message was written for. It is descriptive
// only; reads are scoped by UserID.
type Audience string

const (
	AudiencePatient Audience = "patient"
	AudienceDoctor  Audience = "doctor"
	AudienceAdmin   Audience = "admin"
)

func (a Audience) Valid() bool {
	switch a {
	case AudiencePatient, AudienceDoctor, AudienceAdmin:
		return true
	}
	return false
}

// Notification maps to the notifications table.
type Notification struct {
	ID         uuid.UUID `db:"id" json:"id"`
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	Title      string    `db:"title" json:"title"`
	Message    string    `db:"message" json:"message"`
	Type       Type      `db:"type" json:"type"`
	IsRead     bool      `db:"is_read" json:"is_read"`
	TargetRole *Audience `db:"target_role" json:"target_role,omitempty"`
	ActionType *string   `db:"action_type" json:"action_type,omitempty"`
	EntityID   *string   `db:"entity_id" json:"entity_id,omitempty"`
	EntityType *string   `db:"entity_type" json:"entity_type,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// EntityRef points at the domain object a notification is about.
type EntityRef struct {
	ID   string
	Type string
}

// Message is one logical notification before fan-out. Every recipient of a
// NotifyUsers call gets an identical row built from it.
type Message struct {
	Audience Audience
	Title    string
	Body     string
	Type     Type
	Action   string
	Entity   *EntityRef
}

// For builds the row stored for one recipient.
func (m Message) For(userID uuid.UUID) *Notification {
	n := &Notification{
		UserID:  userID,
		Title:   m.Title,
		Message: m.Body,
		Type:    m.Type,
	}
	if n.Type == "" {
		n.Type = TypeInfo
	}
	if m.Audience != "" {
		aud := m.Audience
		n.TargetRole = &aud
	}
	if m.Action != "" {
		action := m.Action
		n.ActionType = &action
	}
	if m.Entity != nil {
		id, typ := m.Entity.ID, m.Entity.Type
		n.EntityID = &id
		n.EntityType = &typ
	}
	return n
}

// Filter narrows ListByUser. Nil fields are not applied.
type Filter struct {
	IsRead     *bool
	Type       *Type
	TargetRole *Audience
}
