package generationrepository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pantrykeep/mealimages/internal/domain"
	"github.com/pantrykeep/mealimages/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Postgres struct {
	db     *sqlx.DB
	schema string

	tracer trace.Tracer
}

func NewPostgres(db *sqlx.DB, schema string) *Postgres {
	tracer := otel.Tracer("mealimages/generationrepository/postgres")

	return &Postgres{
		db:     db,
		schema: schema,

		tracer: tracer,
	}
}

type dbGenerationEntry struct {
	ID          string    `db:"id"`
	MealKey     string    `db:"meal_key"`
	MealName    string    `db:"meal_name"`
	Prompt      string    `db:"prompt"`
	Outcome     string    `db:"outcome"`
	ProviderURL string    `db:"provider_url"`
	StoredURL   string    `db:"stored_url"`
	CreatedAt   time.Time `db:"created_at"`
}

func (p *Postgres) StoreGeneration(ctx context.Context, record domain.GenerationRecord) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.StoreGeneration")
	defer span.End()

	switch record.Outcome {
	case domain.GenerationOutcomeStored, domain.GenerationOutcomeEphemeral, domain.GenerationOutcomeFailed:
	default:
		err := fmt.Errorf("invalid generation outcome")
		reporting.Report(ctx, err, map[string]string{
			"outcome": string(record.Outcome),
		})
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		err := fmt.Errorf("failed to generate id: %w", err)
		reporting.Report(ctx, err)
		return err
	}

	_, err = p.db.ExecContext(
		ctx,
		fmt.Sprintf(`INSERT INTO %s.generations
		(id, meal_key, meal_name, prompt, outcome, provider_url, stored_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			pq.QuoteIdentifier(p.schema),
		),
		id.String(),
		record.Key,
		record.MealName,
		record.Prompt,
		string(record.Outcome),
		record.ProviderURL,
		record.StoredURL,
		record.CreatedAt,
	)
	if err != nil {
		err := fmt.Errorf("failed to insert generation: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"key":       record.Key,
			"outcome":   string(record.Outcome),
			"createdAt": record.CreatedAt.Format(time.RFC3339),
		})
		return err
	}

	return nil
}

func (p *Postgres) GetGenerationsForKey(ctx context.Context, key string, limit int) ([]domain.GenerationRecord, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.GetGenerationsForKey")
	defer span.End()

	var entries []dbGenerationEntry
	err := p.db.SelectContext(ctx, &entries, fmt.Sprintf(`SELECT
		id, meal_key, meal_name, prompt, outcome, provider_url, stored_url, created_at
		FROM %s.generations
		WHERE meal_key = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		pq.QuoteIdentifier(p.schema),
	),
		key,
		limit,
	)
	if err != nil {
		err := fmt.Errorf("failed to select generations: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"key":   key,
			"limit": strconv.Itoa(limit),
		})
		return nil, err
	}

	records := make([]domain.GenerationRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, domain.GenerationRecord{
			Key:         entry.MealKey,
			MealName:    entry.MealName,
			Prompt:      entry.Prompt,
			Outcome:     domain.GenerationOutcome(entry.Outcome),
			ProviderURL: entry.ProviderURL,
			StoredURL:   entry.StoredURL,
			CreatedAt:   entry.CreatedAt.UTC(),
		})
	}

	return records, nil
}
