package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/SergeiKhy/linkresolver/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrLinkNotFound  = errors.New("link not found")
	ErrCodeExists    = errors.New("short code already exists")
	ErrQuotaExceeded = errors.New("link quota exceeded")
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

type LinkRepository interface {
	Insert(ctx context.Context, link *models.Link) error
	InsertWithinQuota(ctx context.Context, link *models.Link, limit int) error
	FindByCode(ctx context.Context, code string) (*models.Link, error)
	FindByID(ctx context.Context, id string) (*models.Link, error)
	IncrementVisitCount(ctx context.Context, id string) error
	UpdateDestination(ctx context.Context, id, ownerID, destination string) (*models.Link, error)
	DeleteByID(ctx context.Context, id, ownerID string) (string, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Link, error)
	DeleteManyByIDs(ctx context.Context, ids []string, ownerID string) ([]string, error)
}

type linkRepository struct {
	db *PostgresDB
}

func NewLinkRepository(db *PostgresDB) LinkRepository {
	return &linkRepository{db: db}
}

const linkColumns = `id::text, owner_id, code, alias, destination, visit_count, created_at, updated_at`

const insertLinkQuery = `
	INSERT INTO links (id, owner_id, code, alias, destination)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING visit_count, created_at, updated_at
`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertLink(ctx context.Context, q querier, link *models.Link) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}

	err := q.QueryRow(
		ctx,
		insertLinkQuery,
		link.ID,
		link.OwnerID,
		link.Code,
		link.Alias,
		link.Destination,
	).Scan(&link.VisitCount, &link.CreatedAt, &link.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrCodeExists
		}
		return fmt.Errorf("failed to insert link: %w", err)
	}

	return nil
}

func (r *linkRepository) Insert(ctx context.Context, link *models.Link) error {
	return insertLink(ctx, r.db.Pool, link)
}

// InsertWithinQuota inserts the link only while the owner holds fewer than limit links.
// The per-owner advisory lock serializes concurrent creates of the same owner so the
// count and the insert observe the same state.
func (r *linkRepository) InsertWithinQuota(ctx context.Context, link *models.Link, limit int) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, link.OwnerID); err != nil {
		return fmt.Errorf("failed to lock owner: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM links WHERE owner_id = $1`, link.OwnerID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count links: %w", err)
	}
	if count >= limit {
		return ErrQuotaExceeded
	}

	if err := insertLink(ctx, tx, link); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit link: %w", err)
	}

	return nil
}

func (r *linkRepository) FindByCode(ctx context.Context, code string) (*models.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE code = $1`

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, code))
	if err != nil {
		return nil, fmt.Errorf("failed to get link by code: %w", err)
	}

	return link, nil
}

func (r *linkRepository) FindByID(ctx context.Context, id string) (*models.Link, error) {
	linkID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrLinkNotFound
	}

	query := `SELECT ` + linkColumns + ` FROM links WHERE id = $1`

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, linkID))
	if err != nil {
		return nil, fmt.Errorf("failed to get link by id: %w", err)
	}

	return link, nil
}

// IncrementVisitCount bumps the counter in a single statement; concurrent calls never lose updates.
func (r *linkRepository) IncrementVisitCount(ctx context.Context, id string) error {
	linkID, err := uuid.Parse(id)
	if err != nil {
		return ErrLinkNotFound
	}

	result, err := r.db.Pool.Exec(ctx, `UPDATE links SET visit_count = visit_count + 1 WHERE id = $1`, linkID)
	if err != nil {
		return fmt.Errorf("failed to increment visit count: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrLinkNotFound
	}

	return nil
}

func (r *linkRepository) UpdateDestination(ctx context.Context, id, ownerID, destination string) (*models.Link, error) {
	linkID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrLinkNotFound
	}

	query := `
		UPDATE links SET destination = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + linkColumns

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, linkID, ownerID, destination))
	if err != nil {
		return nil, fmt.Errorf("failed to update link: %w", err)
	}

	return link, nil
}

// DeleteByID removes the owner's link and returns its code.
func (r *linkRepository) DeleteByID(ctx context.Context, id, ownerID string) (string, error) {
	linkID, err := uuid.Parse(id)
	if err != nil {
		return "", ErrLinkNotFound
	}

	var code string
	err = r.db.Pool.QueryRow(ctx,
		`DELETE FROM links WHERE id = $1 AND owner_id = $2 RETURNING code`,
		linkID, ownerID,
	).Scan(&code)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrLinkNotFound
		}
		return "", fmt.Errorf("failed to delete link: %w", err)
	}

	return code, nil
}

func (r *linkRepository) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM links WHERE owner_id = $1`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}

	return count, nil
}

func (r *linkRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE owner_id = $1 ORDER BY created_at DESC, id`

	rows, err := r.db.Pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	links := make([]models.Link, 0)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, *link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}

	return links, nil
}

// DeleteManyByIDs deletes only the ids that belong to ownerID and returns the deleted codes.
func (r *linkRepository) DeleteManyByIDs(ctx context.Context, ids []string, ownerID string) ([]string, error) {
	linkIDs := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if linkID, err := uuid.Parse(id); err == nil {
			linkIDs = append(linkIDs, linkID)
		}
	}
	if len(linkIDs) == 0 {
		return []string{}, nil
	}

	rows, err := r.db.Pool.Query(ctx,
		`DELETE FROM links WHERE owner_id = $1 AND id = ANY($2) RETURNING code`,
		ownerID, linkIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete links: %w", err)
	}

	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect deleted codes: %w", err)
	}

	return codes, nil
}

func scanLink(row pgx.Row) (*models.Link, error) {
	link := &models.Link{}
	err := row.Scan(
		&link.ID,
		&link.OwnerID,
		&link.Code,
		&link.Alias,
		&link.Destination,
		&link.VisitCount,
		&link.CreatedAt,
		&link.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}

	return link, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
