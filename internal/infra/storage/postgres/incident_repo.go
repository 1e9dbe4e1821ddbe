package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage"
	"github.com/proyecto-sentinel/sentinel/internal/metrics"
)

// IncidentRepo implements storage.IncidentRepository using PostgreSQL.
type IncidentRepo struct {
	db *DB
}

// NewIncidentRepo creates a new PostgreSQL incident repository.
func NewIncidentRepo(db *DB) *IncidentRepo {
	return &IncidentRepo{db: db}
}

var rawColumns = []string{
	"col_a", "col_b", "col_c", "col_d", "col_e", "col_f", "col_g", "col_h",
	"col_i", "col_j", "col_k", "col_l", "col_m", "col_n", "col_o", "col_p", "col_q",
}

type rawRow struct {
	ID         int64          `db:"id"`
	DocumentID string         `db:"document_id"`
	RowIndex   int            `db:"row_index"`
	SourcePath sql.NullString `db:"source_path"`
	ColA       sql.NullString `db:"col_a"`
	ColB       sql.NullString `db:"col_b"`
	ColC       sql.NullString `db:"col_c"`
	ColD       sql.NullString `db:"col_d"`
	ColE       sql.NullString `db:"col_e"`
	ColF       sql.NullString `db:"col_f"`
	ColG       sql.NullString `db:"col_g"`
	ColH       sql.NullString `db:"col_h"`
	ColI       sql.NullString `db:"col_i"`
	ColJ       sql.NullString `db:"col_j"`
	ColK       sql.NullString `db:"col_k"`
	ColL       sql.NullString `db:"col_l"`
	ColM       sql.NullString `db:"col_m"`
	ColN       sql.NullString `db:"col_n"`
	ColO       sql.NullString `db:"col_o"`
	ColP       sql.NullString `db:"col_p"`
	ColQ       sql.NullString `db:"col_q"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r *rawRow) toDomain() domain.RawIncident {
	out := domain.RawIncident{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		RowIndex:   r.RowIndex,
		SourcePath: r.SourcePath.String,
		CreatedAt:  r.CreatedAt,
	}
	cols := []sql.NullString{
		r.ColA, r.ColB, r.ColC, r.ColD, r.ColE, r.ColF, r.ColG, r.ColH,
		r.ColI, r.ColJ, r.ColK, r.ColL, r.ColM, r.ColN, r.ColO, r.ColP, r.ColQ,
	}
	for i, c := range cols {
		out.Fields[i] = c.String
	}
	return out
}

func fieldArgs(fields [domain.NumRawColumns]string) []any {
	args := make([]any, len(fields))
	for i, f := range fields {
		if f == "" {
			args[i] = nil
		} else {
			args[i] = f
		}
	}
	return args
}

// InsertRaw stores one raw row. An existing (document_id, row_index) pair is
// left untouched.
func (r *IncidentRepo) InsertRaw(ctx context.Context, row *domain.RawIncident) error {
	query := `
		INSERT INTO raw_incidents (document_id, row_index, source_path,
			col_a, col_b, col_c, col_d, col_e, col_f, col_g, col_h,
			col_i, col_j, col_k, col_l, col_m, col_n, col_o, col_p, col_q)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (document_id, row_index) DO NOTHING
	`

	args := append([]any{row.DocumentID, row.RowIndex, nullable(row.SourcePath)}, fieldArgs(row.Fields)...)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert raw incident: %w", err)
	}
	return nil
}

// FetchUnclassifiedChunk returns up to limit rows with no classified
// counterpart, ascending row_index. The anti-join keeps the result consistent
// with concurrently committed classified inserts.
func (r *IncidentRepo) FetchUnclassifiedChunk(ctx context.Context, documentID string, limit int) ([]domain.RawIncident, error) {
	query := `
		SELECT r.* FROM raw_incidents r
		WHERE r.document_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM classified_incidents c WHERE c.raw_incident_id = r.id
		  )
		ORDER BY r.row_index ASC
		LIMIT $2
	`

	var rows []rawRow
	if err := r.db.SelectContext(ctx, &rows, query, documentID, limit); err != nil {
		return nil, fmt.Errorf("failed to fetch unclassified chunk: %w", err)
	}

	out := make([]domain.RawIncident, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// InsertClassifiedBatch commits every item inside one transaction. Any
// failure rolls back the whole batch and the error reports the attempted
// batch size so the caller can retry the entire chunk.
func (r *IncidentRepo) InsertClassifiedBatch(ctx context.Context, documentID string, items []storage.ClassifiedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	metrics.DBBatchSize.WithLabelValues("insert_classified").Observe(float64(len(items)))

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO classified_incidents (document_id, raw_incident_id, categoria, subtipo, observaciones)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (raw_incident_id) DO NOTHING
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%w: %v, batch of %d items", storage.ErrBatchRolledBack, err, len(items))
	}
	defer stmt.Close()

	saved := 0
	for _, it := range items {
		res, err := stmt.ExecContext(ctx,
			documentID,
			it.RawIncidentID,
			nullable(it.Categoria),
			nullable(it.Subtipo),
			it.Observaciones,
		)
		if err != nil {
			return 0, fmt.Errorf("%w: %v, batch of %d items", storage.ErrBatchRolledBack, err, len(items))
		}
		if n, _ := res.RowsAffected(); n > 0 {
			saved++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v, batch of %d items", storage.ErrBatchRolledBack, err, len(items))
	}
	return saved, nil
}

// FetchRaws returns every raw row of a document, ascending row_index. Export
// only, never the chunk loop.
func (r *IncidentRepo) FetchRaws(ctx context.Context, documentID string) ([]domain.RawIncident, error) {
	query := `SELECT * FROM raw_incidents WHERE document_id = $1 ORDER BY row_index ASC`

	var rows []rawRow
	if err := r.db.SelectContext(ctx, &rows, query, documentID); err != nil {
		return nil, fmt.Errorf("failed to fetch raw incidents: %w", err)
	}

	out := make([]domain.RawIncident, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

type classifiedRow struct {
	ID            int64          `db:"id"`
	DocumentID    string         `db:"document_id"`
	RawIncidentID int64          `db:"raw_incident_id"`
	Categoria     sql.NullString `db:"categoria"`
	Subtipo       sql.NullString `db:"subtipo"`
	Observaciones sql.NullString `db:"observaciones"`
	CreatedAt     time.Time      `db:"created_at"`
}

// FetchClassifiedMap returns classified rows keyed by raw incident id.
func (r *IncidentRepo) FetchClassifiedMap(ctx context.Context, documentID string) (map[int64]domain.ClassifiedIncident, error) {
	query := `SELECT * FROM classified_incidents WHERE document_id = $1`

	var rows []classifiedRow
	if err := r.db.SelectContext(ctx, &rows, query, documentID); err != nil {
		return nil, fmt.Errorf("failed to fetch classified incidents: %w", err)
	}

	out := make(map[int64]domain.ClassifiedIncident, len(rows))
	for _, row := range rows {
		out[row.RawIncidentID] = domain.ClassifiedIncident{
			ID:            row.ID,
			DocumentID:    row.DocumentID,
			RawIncidentID: row.RawIncidentID,
			Categoria:     row.Categoria.String,
			Subtipo:       row.Subtipo.String,
			Observaciones: row.Observaciones.String,
			CreatedAt:     row.CreatedAt,
		}
	}
	return out, nil
}

// CountRaws returns the number of raw rows for a document.
func (r *IncidentRepo) CountRaws(ctx context.Context, documentID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM raw_incidents WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to count raw incidents: %w", err)
	}
	return n, nil
}

// CountClassified returns the number of classified rows for a document.
func (r *IncidentRepo) CountClassified(ctx context.Context, documentID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM classified_incidents WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to count classified incidents: %w", err)
	}
	return n, nil
}

// CategoryBreakdown returns per-category counts, largest bucket first. The
// COALESCE matters: below-threshold rows are stored with NULL categoria and
// would otherwise vanish from the report.
func (r *IncidentRepo) CategoryBreakdown(ctx context.Context, documentID string) ([]storage.CategoryCount, error) {
	query := `
		SELECT COALESCE(categoria, '') AS categoria, COUNT(*) AS count
		FROM classified_incidents
		WHERE document_id = $1
		GROUP BY 1
		ORDER BY 2 DESC, 1 ASC
	`

	var rows []struct {
		Categoria string `db:"categoria"`
		Count     int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, documentID); err != nil {
		return nil, fmt.Errorf("failed to fetch category breakdown: %w", err)
	}

	out := make([]storage.CategoryCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, storage.CategoryCount{Categoria: row.Categoria, Count: row.Count})
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
