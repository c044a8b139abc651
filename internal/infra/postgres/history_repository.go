package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
)

// historyRow is the bun model for the game_history table. Settings,
// players and the question timeline are stored as JSONB snapshots; the
// record is write-once by contract.
type historyRow struct {
	bun.BaseModel `bun:"table:game_history,alias:gh"`

	ID        string    `bun:"id,pk"`
	HostID    string    `bun:"host_id,notnull"`
	GameMode  string    `bun:"game_mode,notnull"`
	Pin       string    `bun:"pin,notnull"`
	StartedAt time.Time `bun:"started_at,notnull"`
	EndedAt   time.Time `bun:"ended_at,notnull"`
	Settings  []byte    `bun:"settings,type:jsonb"`
	Players   []byte    `bun:"players,type:jsonb"`
	Results   []byte    `bun:"results,type:jsonb"`
}

// HistoryRepository persists finalized sessions through bun.
type HistoryRepository struct {
	db *bun.DB
}

func NewHistoryRepository(db *bun.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Create inserts the record, resolving a (pin, started_at) conflict to
// the already-stored record so duplicate finalize triggers stay
// idempotent across process restarts.
func (r *HistoryRepository) Create(ctx context.Context, record domain.GameHistory) (string, error) {
	row, err := toRow(record)
	if err != nil {
		return "", err
	}

	res, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (pin, started_at) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("insert game history: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var existingID string
		err := r.db.NewSelect().
			Model((*historyRow)(nil)).
			Column("id").
			Where("pin = ?", record.Pin).
			Where("started_at = ?", record.StartedAt).
			Scan(ctx, &existingID)
		if err != nil {
			return "", fmt.Errorf("resolve history conflict: %w", err)
		}
		return existingID, nil
	}
	return record.ID, nil
}

func (r *HistoryRepository) FindByHost(ctx context.Context, hostID string) ([]domain.GameHistory, error) {
	var rows []historyRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("host_id = ?", hostID).
		Order("ended_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list game history: %w", err)
	}

	out := make([]domain.GameHistory, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *HistoryRepository) FindByID(ctx context.Context, id, callerID string) (domain.GameHistory, error) {
	var row historyRow
	err := r.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GameHistory{}, domain.ErrHistoryNotFound
	}
	if err != nil {
		return domain.GameHistory{}, fmt.Errorf("load game history: %w", err)
	}
	if row.HostID != callerID {
		return domain.GameHistory{}, domain.ErrForbidden
	}
	return fromRow(row)
}

func toRow(record domain.GameHistory) (*historyRow, error) {
	settings, err := json.Marshal(record.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	players, err := json.Marshal(record.Players)
	if err != nil {
		return nil, fmt.Errorf("marshal players: %w", err)
	}
	results, err := json.Marshal(record.Results)
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}
	return &historyRow{
		ID:        record.ID,
		HostID:    record.HostID,
		GameMode:  record.GameMode,
		Pin:       record.Pin,
		StartedAt: record.StartedAt,
		EndedAt:   record.EndedAt,
		Settings:  settings,
		Players:   players,
		Results:   results,
	}, nil
}

func fromRow(row historyRow) (domain.GameHistory, error) {
	rec := domain.GameHistory{
		ID:        row.ID,
		HostID:    row.HostID,
		GameMode:  row.GameMode,
		Pin:       row.Pin,
		StartedAt: row.StartedAt,
		EndedAt:   row.EndedAt,
	}
	if len(row.Settings) > 0 {
		if err := json.Unmarshal(row.Settings, &rec.Settings); err != nil {
			return domain.GameHistory{}, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	if len(row.Players) > 0 {
		if err := json.Unmarshal(row.Players, &rec.Players); err != nil {
			return domain.GameHistory{}, fmt.Errorf("unmarshal players: %w", err)
		}
	}
	if len(row.Results) > 0 {
		if err := json.Unmarshal(row.Results, &rec.Results); err != nil {
			return domain.GameHistory{}, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	return rec, nil
}
