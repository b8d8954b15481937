// Package repository implements data persistence using PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teslaelectricidad/teslabot/internal/domain"
	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
	"github.com/teslaelectricidad/teslabot/internal/validation"
)

var (
	leadSources  = []string{string(domain.LeadSourceForm), string(domain.LeadSourceChat)}
	leadStatuses = func() []string {
		out := make([]string, len(domain.LeadStatuses))
		for i, s := range domain.LeadStatuses {
			out[i] = string(s)
		}
		return out
	}()
)

// LeadRepository implements domain.LeadRepository using PostgreSQL.
type LeadRepository struct {
	pool  *pgxpool.Pool
	guard *Guard
}

// NewLeadRepository creates a new LeadRepository.
func NewLeadRepository(pool *pgxpool.Pool) *LeadRepository {
	return &LeadRepository{pool: pool, guard: NewGuard()}
}

// validateLead checks the columns the schema constrains.
func validateLead(lead *domain.Lead) error {
	return Validate().
		RequireString(lead.ID, "id").
		RequireString(lead.Name, "nombre").
		RequireString(lead.Phone, "telefono").
		RequireString(lead.Service, "servicio").
		RequireEnum(string(lead.Source), leadSources, "source").
		RequireEnum(string(lead.Status), leadStatuses, "status").
		RequireMaxLength(lead.Name, validation.MaxNameLength, "nombre").
		RequireMaxLength(lead.Email, validation.MaxEmailLength, "email").
		RequireMaxLength(lead.Message, validation.MaxMessageLength, "mensaje").
		Error()
}

// Create inserts a new lead. An empty status is stored as new.
func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead) error {
	if lead.Status == "" {
		lead.Status = domain.LeadStatusNew
	}
	if err := validateLead(lead); err != nil {
		return err
	}

	ctx, cancel := WithWriteTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("INSERT INTO leads (%s) VALUES (%s)",
		LeadColumns.InsertColumns(), LeadColumns.Placeholders())

	_, err := r.pool.Exec(ctx, query,
		lead.ID,
		lead.Name,
		lead.Phone,
		lead.Email,
		lead.Service,
		lead.Message,
		string(lead.Source),
		string(lead.Status),
		lead.CreatedAt,
	)
	if err != nil {
		return apperrors.DatabaseError("leads.Create", err)
	}
	return nil
}

// GetByID retrieves a lead by id.
func (r *LeadRepository) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	if err := Validate().RequireString(id, "id").Error(); err != nil {
		return nil, err
	}

	ctx, cancel := WithQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM leads WHERE id = $1", LeadColumns.Select())

	lead, err := scanLead(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("lead")
	}
	if err != nil {
		return nil, apperrors.DatabaseError("leads.GetByID", err)
	}
	return lead, nil
}

// ListRecent retrieves leads newest first.
func (r *LeadRepository) ListRecent(ctx context.Context, limit, offset int) ([]*domain.Lead, error) {
	limit, offset = r.guard.NormalizePagination(limit, offset, DefaultPageSize, MaxPageSize)

	ctx, cancel := WithListQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM leads ORDER BY created_at DESC LIMIT $1 OFFSET $2", LeadColumns.Select())

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError("leads.ListRecent", err)
	}
	defer rows.Close()

	var leads []*domain.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, apperrors.DatabaseError("leads.ListRecent", fmt.Errorf("scan lead: %w", err))
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("leads.ListRecent", err)
	}
	return leads, nil
}

// Count returns the total number of leads.
func (r *LeadRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := WithQueryTimeout(ctx)
	defer cancel()

	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM leads").Scan(&count); err != nil {
		return 0, apperrors.DatabaseError("leads.Count", err)
	}
	return count, nil
}

// UpdateStatus sets the follow-up status of a lead.
func (r *LeadRepository) UpdateStatus(ctx context.Context, id string, status domain.LeadStatus) error {
	err := Validate().
		RequireString(id, "id").
		RequireEnum(string(status), leadStatuses, "status").
		Error()
	if err != nil {
		return err
	}

	ctx, cancel := WithWriteTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, "UPDATE leads SET status = $1 WHERE id = $2", string(status), id)
	if err != nil {
		return apperrors.DatabaseError("leads.UpdateStatus", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("lead")
	}
	return nil
}

// CountByService counts leads per service created in [from, to).
func (r *LeadRepository) CountByService(ctx context.Context, from, to time.Time) (map[string]int, error) {
	if !from.Before(to) {
		return nil, apperrors.ValidationFailed("stats range must start before it ends")
	}

	ctx, cancel := WithListQueryTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT servicio, COUNT(*) FROM leads
		 WHERE created_at >= $1 AND created_at < $2
		 GROUP BY servicio`, from, to)
	if err != nil {
		return nil, apperrors.DatabaseError("leads.CountByService", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			service string
			n       int
		)
		if err := rows.Scan(&service, &n); err != nil {
			return nil, apperrors.DatabaseError("leads.CountByService", err)
		}
		counts[service] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("leads.CountByService", err)
	}
	return counts, nil
}

func scanLead(row pgx.Row) (*domain.Lead, error) {
	var lead domain.Lead
	var source, status string
	err := row.Scan(
		&lead.ID,
		&lead.Name,
		&lead.Phone,
		&lead.Email,
		&lead.Service,
		&lead.Message,
		&source,
		&status,
		&lead.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	lead.Source = domain.LeadSource(source)
	lead.Status = domain.LeadStatus(status)
	return &lead, nil
}
