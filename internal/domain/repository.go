package domain

import (
	"context"
	"time"
)

// LeadRepository defines persistence for accepted leads.
type LeadRepository interface {
	// Create inserts a new lead.
	Create(ctx context.Context, lead *Lead) error

	// GetByID retrieves a lead by id.
	GetByID(ctx context.Context, id string) (*Lead, error)

	// ListRecent retrieves leads newest first.
	ListRecent(ctx context.Context, limit, offset int) ([]*Lead, error)

	// Count returns the total number of leads.
	Count(ctx context.Context) (int, error)

	// UpdateStatus sets the follow-up status of a lead.
	UpdateStatus(ctx context.Context, id string, status LeadStatus) error

	// CountByService counts leads per service created in [from, to).
	CountByService(ctx context.Context, from, to time.Time) (map[string]int, error)
}

// OutcomeRepository defines persistence for automation outcomes.
type OutcomeRepository interface {
	// CreateBatch inserts the outcomes of one dispatch.
	CreateBatch(ctx context.Context, outcomes []Outcome) error

	// ListByLeads returns outcomes grouped by lead id.
	ListByLeads(ctx context.Context, leadIDs []string) (map[string][]Outcome, error)
}
