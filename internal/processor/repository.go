package processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/graystone-av/dsp-core/internal/infrastructure/database"
)

// Repository persists processors, channel routing state, and groups.
type Repository interface {
	CreateProcessor(ctx context.Context, p *Processor) error
	GetProcessor(ctx context.Context, id string) (*Processor, error)
	ListProcessors(ctx context.Context) ([]*Processor, error)
	UpdateProcessor(ctx context.Context, p *Processor) error
	DeleteProcessor(ctx context.Context, id string) error

	// SaveChannels replaces the routing state for one processor
	// atomically. Group membership lives on the channel rows.
	SaveChannels(ctx context.Context, processorID string, channels []Channel) error
	ListChannels(ctx context.Context, processorID string) ([]Channel, error)

	SaveGroup(ctx context.Context, g *Group) error
	DeleteGroup(ctx context.Context, id string) error
	ListGroups(ctx context.Context, processorID string) ([]Group, error)
}

// SQLiteRepository implements Repository on the embedded database.
type SQLiteRepository struct {
	db *database.DB
}

// NewSQLiteRepository creates a repository backed by db.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateProcessor inserts a new processor.
func (r *SQLiteRepository) CreateProcessor(ctx context.Context, p *Processor) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audio_processors
			(id, name, model, host, control_port, meter_port,
			 input_count, output_count, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Model, p.Host, p.ControlPort, p.MeterPort,
		p.InputCount, p.OutputCount, boolToInt(p.Enabled),
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %s:%d", ErrDuplicate, p.Host, p.ControlPort)
		}
		return fmt.Errorf("inserting processor: %w", err)
	}
	return nil
}

// GetProcessor fetches one processor by id.
func (r *SQLiteRepository) GetProcessor(ctx context.Context, id string) (*Processor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, model, host, control_port, meter_port,
		       input_count, output_count, enabled, created_at, updated_at
		FROM audio_processors WHERE id = ?`, id)

	p, err := scanProcessor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying processor: %w", err)
	}
	return p, nil
}

// ListProcessors returns all processors ordered by name.
func (r *SQLiteRepository) ListProcessors(ctx context.Context) ([]*Processor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, model, host, control_port, meter_port,
		       input_count, output_count, enabled, created_at, updated_at
		FROM audio_processors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying processors: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var out []*Processor
	for rows.Next() {
		p, err := scanProcessor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning processor: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProcessor updates mutable fields of a processor.
func (r *SQLiteRepository) UpdateProcessor(ctx context.Context, p *Processor) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE audio_processors
		SET name = ?, model = ?, host = ?, control_port = ?, meter_port = ?,
		    input_count = ?, output_count = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Model, p.Host, p.ControlPort, p.MeterPort,
		p.InputCount, p.OutputCount, boolToInt(p.Enabled),
		p.UpdatedAt.Format(time.RFC3339), p.ID)
	if err != nil {
		return fmt.Errorf("updating processor: %w", err)
	}
	return requireRow(res, p.ID)
}

// DeleteProcessor removes a processor; channels, groups, and scenes cascade.
func (r *SQLiteRepository) DeleteProcessor(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM audio_processors WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting processor: %w", err)
	}
	return requireRow(res, id)
}

// SaveChannels replaces the processor's channel rows in one transaction.
func (r *SQLiteRepository) SaveChannels(ctx context.Context, processorID string, channels []Channel) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM audio_channels WHERE processor_id = ?", processorID); err != nil {
		return fmt.Errorf("clearing channels: %w", err)
	}

	for _, ch := range channels {
		var partner sql.NullInt64
		if ch.StereoPartner != 0 {
			partner = sql.NullInt64{Int64: int64(ch.StereoPartner), Valid: true}
		}
		var group sql.NullString
		if ch.GroupID != "" {
			group = sql.NullString{String: ch.GroupID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audio_channels
				(processor_id, direction, idx, name, stereo_partner, group_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			processorID, ch.Direction, ch.Index, ch.Name, partner, group); err != nil {
			return fmt.Errorf("inserting channel %s/%d: %w", ch.Direction, ch.Index, err)
		}
	}
	return tx.Commit()
}

// ListChannels returns the processor's channel rows.
func (r *SQLiteRepository) ListChannels(ctx context.Context, processorID string) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT direction, idx, name, stereo_partner, group_id
		FROM audio_channels WHERE processor_id = ?
		ORDER BY direction, idx`, processorID)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var out []Channel
	for rows.Next() {
		ch := Channel{ProcessorID: processorID}
		var partner sql.NullInt64
		var group sql.NullString
		if err := rows.Scan(&ch.Direction, &ch.Index, &ch.Name, &partner, &group); err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		ch.StereoPartner = int(partner.Int64)
		ch.GroupID = group.String
		out = append(out, ch)
	}
	return out, rows.Err()
}

// SaveGroup inserts a group record. Membership is persisted via SaveChannels.
func (r *SQLiteRepository) SaveGroup(ctx context.Context, g *Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audio_groups (id, processor_id, name, created_at)
		VALUES (?, ?, ?, ?)`,
		g.ID, g.ProcessorID, g.Name, g.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

// DeleteGroup removes a group record.
func (r *SQLiteRepository) DeleteGroup(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM audio_groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	return requireRow(res, id)
}

// ListGroups returns the processor's groups with membership resolved from
// the channel rows.
func (r *SQLiteRepository) ListGroups(ctx context.Context, processorID string) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, created_at FROM audio_groups
		WHERE processor_id = ? ORDER BY name`, processorID)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var out []Group
	for rows.Next() {
		g := Group{ProcessorID: processorID}
		var created string
		if err := rows.Scan(&g.ID, &g.Name, &created); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		g.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		memberRows, err := r.db.QueryContext(ctx, `
			SELECT idx FROM audio_channels
			WHERE processor_id = ? AND group_id = ? ORDER BY idx`,
			processorID, out[i].ID)
		if err != nil {
			return nil, fmt.Errorf("querying group members: %w", err)
		}
		for memberRows.Next() {
			var idx int
			if err := memberRows.Scan(&idx); err != nil {
				memberRows.Close() //nolint:errcheck // Error path
				return nil, fmt.Errorf("scanning member: %w", err)
			}
			out[i].Members = append(out[i].Members, idx)
		}
		if err := memberRows.Err(); err != nil {
			memberRows.Close() //nolint:errcheck // Error path
			return nil, err
		}
		memberRows.Close() //nolint:errcheck // Read-only cursor
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProcessor(row scannable) (*Processor, error) {
	var p Processor
	var enabled int
	var created, updated string
	err := row.Scan(&p.ID, &p.Name, &p.Model, &p.Host, &p.ControlPort, &p.MeterPort,
		&p.InputCount, &p.OutputCount, &enabled, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.Enabled = enabled != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &p, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
