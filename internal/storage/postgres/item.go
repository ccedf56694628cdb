package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mp_harvester/internal/domain"
)

// insertChunkSize keeps one INSERT well below PostgreSQL's 65535 bind parameter
// limit (seven per row).
const insertChunkSize = 1000

type itemRow struct {
	Source      string         `db:"source"`
	ID          string         `db:"id"`
	Title       string         `db:"title"`
	ContentLink string         `db:"content_link"`
	CreatedAt   time.Time      `db:"created_at"`
	Digest      string         `db:"digest"`
	Tags        pq.StringArray `db:"tags"`
}

type ItemStore struct {
	db *sqlx.DB
}

func NewItemStore(db *sqlx.DB) *ItemStore {
	return &ItemStore{db: db}
}

// InsertBatch stores items not yet known for their source, insertChunkSize rows
// per statement. Existing rows are left as they are. It returns the number of
// rows inserted.
func (s *ItemStore) InsertBatch(ctx context.Context, source string, items []domain.ListingItem) (int64, error) {
	var inserted int64
	for start := 0; start < len(items); start += insertChunkSize {
		end := min(start+insertChunkSize, len(items))
		n, err := s.insertChunk(ctx, source, items[start:end])
		if err != nil {
			return inserted, fmt.Errorf("insert items %d-%d: %w", start, end, err)
		}
		inserted += n
	}
	return inserted, nil
}

// IDs returns the ids already stored for source.
func (s *ItemStore) IDs(ctx context.Context, source string) (map[string]struct{}, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, executor(ctx, s.db), &ids, `SELECT id FROM items WHERE source = $1`, source); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (s *ItemStore) insertChunk(ctx context.Context, source string, items []domain.ListingItem) (int64, error) {
	rows := make([]itemRow, 0, len(items))
	for _, it := range items {
		tags := pq.StringArray(it.Tags)
		if tags == nil {
			tags = pq.StringArray{}
		}
		rows = append(rows, itemRow{
			Source:      source,
			ID:          it.ID,
			Title:       it.Title,
			ContentLink: it.ContentURL,
			CreatedAt:   it.CreatedAt,
			Digest:      it.Digest,
			Tags:        tags,
		})
	}

	query := `
		INSERT INTO items (source, id, title, content_link, created_at, digest, tags)
		VALUES (:source, :id, :title, :content_link, :created_at, :digest, :tags)
		ON CONFLICT (source, id) DO NOTHING`

	res, err := sqlx.NamedExecContext(ctx, executor(ctx, s.db), query, rows)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListBySource returns the source's items newest first.
func (s *ItemStore) ListBySource(ctx context.Context, source string, loc *time.Location) ([]domain.ListingItem, error) {
	var rows []itemRow
	query := `
		SELECT source, id, title, content_link, created_at, digest, tags
		FROM items
		WHERE source = $1
		ORDER BY created_at DESC, id`

	if err := sqlx.SelectContext(ctx, executor(ctx, s.db), &rows, query, source); err != nil {
		return nil, err
	}

	items := make([]domain.ListingItem, 0, len(rows))
	for _, r := range rows {
		created := r.CreatedAt
		if loc != nil {
			created = created.In(loc)
		}
		items = append(items, domain.ListingItem{
			ID:         r.ID,
			Title:      r.Title,
			ContentURL: r.ContentLink,
			CreatedAt:  created,
			Digest:     r.Digest,
			Source:     r.Source,
			Tags:       []string(r.Tags),
		})
	}
	return items, nil
}

func (s *ItemStore) DeleteBySource(ctx context.Context, source string) error {
	_, err := executor(ctx, s.db).ExecContext(ctx, `DELETE FROM items WHERE source = $1`, source)
	return err
}
