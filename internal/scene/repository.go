package scene

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/graystone-av/dsp-core/internal/infrastructure/database"
)

// Repository persists scenes.
type Repository interface {
	Create(ctx context.Context, s *Scene) error
	Get(ctx context.Context, id string) (*Scene, error)
	List(ctx context.Context, processorID string) ([]*Scene, error)
	Update(ctx context.Context, s *Scene) error
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository on the embedded database.
// Parameter snapshots are stored as a JSON object in a single column; they
// are only ever read and written whole.
type SQLiteRepository struct {
	db *database.DB
}

// NewSQLiteRepository creates a repository backed by db.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new scene.
func (r *SQLiteRepository) Create(ctx context.Context, s *Scene) error {
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	params, err := json.Marshal(s.Parameters)
	if err != nil {
		return fmt.Errorf("marshalling parameters: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audio_scenes
			(id, processor_id, name, description, parameters, recall_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProcessorID, s.Name, s.Description, string(params), s.RecallTime,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %q", ErrDuplicateName, s.Name)
		}
		return fmt.Errorf("inserting scene: %w", err)
	}
	return nil
}

// Get fetches one scene by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Scene, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, processor_id, name, description, parameters, recall_time, created_at, updated_at
		FROM audio_scenes WHERE id = ?`, id)

	s, err := scanScene(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying scene: %w", err)
	}
	return s, nil
}

// List returns a processor's scenes ordered by name.
func (r *SQLiteRepository) List(ctx context.Context, processorID string) ([]*Scene, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, processor_id, name, description, parameters, recall_time, created_at, updated_at
		FROM audio_scenes WHERE processor_id = ? ORDER BY name`, processorID)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var out []*Scene
	for rows.Next() {
		s, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scene: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update replaces a scene's name, description, and snapshot.
func (r *SQLiteRepository) Update(ctx context.Context, s *Scene) error {
	s.UpdatedAt = time.Now().UTC()
	params, err := json.Marshal(s.Parameters)
	if err != nil {
		return fmt.Errorf("marshalling parameters: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE audio_scenes
		SET name = ?, description = ?, parameters = ?, recall_time = ?, updated_at = ?
		WHERE id = ?`,
		s.Name, s.Description, string(params), s.RecallTime,
		s.UpdatedAt.Format(time.RFC3339), s.ID)
	if err != nil {
		return fmt.Errorf("updating scene: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, s.ID)
	}
	return nil
}

// Delete removes a scene.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM audio_scenes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting scene: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanScene(row scannable) (*Scene, error) {
	var s Scene
	var params, created, updated string
	err := row.Scan(&s.ID, &s.ProcessorID, &s.Name, &s.Description, &params,
		&s.RecallTime, &created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &s.Parameters); err != nil {
		return nil, fmt.Errorf("parsing parameters: %w", err)
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339, created)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &s, nil
}
