package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teslaelectricidad/teslabot/internal/database"
	"github.com/teslaelectricidad/teslabot/internal/domain"
	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
)

// outcomeInsertRetries bounds retries of a batch that hit a deadlock.
const outcomeInsertRetries = 2

// OutcomeRepository implements domain.OutcomeRepository using PostgreSQL.
// It also records dispatcher results directly.
type OutcomeRepository struct {
	pool *pgxpool.Pool
	tx   *database.TxManager
}

// NewOutcomeRepository creates a new OutcomeRepository.
func NewOutcomeRepository(pool *pgxpool.Pool, tx *database.TxManager) *OutcomeRepository {
	return &OutcomeRepository{pool: pool, tx: tx}
}

func validateOutcomes(outcomes []domain.Outcome) error {
	v := Validate()
	for _, o := range outcomes {
		v.RequireString(o.LeadID, "lead_id").RequireEnum(string(o.Channel), channelNames(), "channel")
	}
	return v.Error()
}

func channelNames() []string {
	names := make([]string, len(domain.Channels))
	for i, c := range domain.Channels {
		names[i] = string(c)
	}
	return names
}

// CreateBatch inserts the outcomes of one dispatch in a single transaction.
func (r *OutcomeRepository) CreateBatch(ctx context.Context, outcomes []domain.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	if err := validateOutcomes(outcomes); err != nil {
		return err
	}

	ctx, cancel := WithWriteTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("INSERT INTO automation_outcomes (%s) VALUES (%s)",
		OutcomeColumns.InsertColumns(), OutcomeColumns.Placeholders())

	return r.tx.RetryableTransaction(ctx, outcomeInsertRetries, func(ctx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, o := range outcomes {
			batch.Queue(query,
				o.LeadID,
				string(o.Channel),
				o.Delivered,
				o.Skipped,
				o.Error,
				o.Duration.Milliseconds(),
				o.CreatedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert outcomes: %w", err)
		}
		return nil
	})
}

// RecordOutcomes stores the outcomes of a finished dispatch.
func (r *OutcomeRepository) RecordOutcomes(ctx context.Context, outcomes []domain.Outcome) error {
	return r.CreateBatch(ctx, outcomes)
}

// ListByLeads returns outcomes grouped by lead id, oldest first.
func (r *OutcomeRepository) ListByLeads(ctx context.Context, leadIDs []string) (map[string][]domain.Outcome, error) {
	result := make(map[string][]domain.Outcome, len(leadIDs))
	if len(leadIDs) == 0 {
		return result, nil
	}

	ctx, cancel := WithListQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM automation_outcomes WHERE lead_id = ANY($1) ORDER BY created_at, id",
		OutcomeColumns.Select())

	rows, err := r.pool.Query(ctx, query, leadIDs)
	if err != nil {
		return nil, apperrors.DatabaseError("outcomes.ListByLeads", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o domain.Outcome
		var channel string
		var durationMs int64
		if err := rows.Scan(
			&o.LeadID,
			&channel,
			&o.Delivered,
			&o.Skipped,
			&o.Error,
			&durationMs,
			&o.CreatedAt,
		); err != nil {
			return nil, apperrors.DatabaseError("outcomes.ListByLeads", fmt.Errorf("scan outcome: %w", err))
		}
		o.Channel = domain.Channel(channel)
		o.Duration = time.Duration(durationMs) * time.Millisecond
		result[o.LeadID] = append(result[o.LeadID], o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("outcomes.ListByLeads", err)
	}
	return result, nil
}
