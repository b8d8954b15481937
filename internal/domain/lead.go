// Package domain contains the core business entities and interfaces.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// LeadSource identifies where a lead was captured.
type LeadSource string

const (
	LeadSourceForm LeadSource = "form"
	LeadSourceChat LeadSource = "chat"
)

// LeadStatus is the follow-up state of a lead.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "nuevo"
	LeadStatusContacted LeadStatus = "contactado"
	LeadStatusQuoted    LeadStatus = "cotizado"
	LeadStatusClosed    LeadStatus = "cerrado"
	LeadStatusDiscarded LeadStatus = "descartado"
)

// LeadStatuses lists every valid lead status.
var LeadStatuses = []LeadStatus{
	LeadStatusNew,
	LeadStatusContacted,
	LeadStatusQuoted,
	LeadStatusClosed,
	LeadStatusDiscarded,
}

// Valid reports whether s is a known status.
func (s LeadStatus) Valid() bool {
	for _, known := range LeadStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ContactSubmission is a contact request from the website form or the chat
// assistant. JSON names follow the website form fields.
type ContactSubmission struct {
	Name    string `json:"nombre"`
	Phone   string `json:"telefono"`
	Email   string `json:"email,omitempty"`
	Service string `json:"servicio"`
	Message string `json:"mensaje,omitempty"`
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (c ContactSubmission) Trimmed() ContactSubmission {
	return ContactSubmission{
		Name:    strings.TrimSpace(c.Name),
		Phone:   strings.TrimSpace(c.Phone),
		Email:   strings.TrimSpace(c.Email),
		Service: strings.TrimSpace(c.Service),
		Message: strings.TrimSpace(c.Message),
	}
}

// HasEmail reports whether the submitter left an email address.
func (c ContactSubmission) HasEmail() bool {
	return strings.TrimSpace(c.Email) != ""
}

// Lead is an accepted contact submission.
type Lead struct {
	ID string `json:"id"`
	ContactSubmission
	Source    LeadSource `json:"source"`
	Status    LeadStatus `json:"estado"`
	CreatedAt time.Time  `json:"created_at"`
	Outcomes  []Outcome  `json:"outcomes,omitempty"`
}

// ServiceStats counts the leads received for each service in one month.
type ServiceStats struct {
	Month    string         `json:"mes"`
	Total    int            `json:"total"`
	Services map[string]int `json:"servicios"`
}

// NewLead creates a lead with a generated id.
func NewLead(sub ContactSubmission, source LeadSource) *Lead {
	return &Lead{
		ID:                uuid.NewString(),
		ContactSubmission: sub,
		Source:            source,
		Status:            LeadStatusNew,
		CreatedAt:         time.Now().UTC(),
	}
}

// Channel is an automation channel run after a lead is accepted.
type Channel string

const (
	ChannelMessaging  Channel = "messaging"
	ChannelEmail      Channel = "email"
	ChannelSpecialist Channel = "specialist"
	ChannelFollowUp   Channel = "follow_up"
	ChannelAnalytics  Channel = "analytics"
)

// Channels lists every automation channel in dispatch order.
var Channels = []Channel{
	ChannelMessaging,
	ChannelEmail,
	ChannelSpecialist,
	ChannelFollowUp,
	ChannelAnalytics,
}

// Outcome records the result of one automation channel for a lead.
type Outcome struct {
	LeadID    string        `json:"lead_id"`
	Channel   Channel       `json:"channel"`
	Delivered bool          `json:"delivered"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}
