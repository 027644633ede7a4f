package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

	"jd_buyer/internal/model"
)

func (s *Store) InsertOrder(ctx context.Context, rec model.OrderRecord) (model.OrderRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Count <= 0 {
		rec.Count = 1
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, sku_id, count, area_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.SKUID, rec.Count, rec.AreaID, rec.CreatedAt.UnixMilli())
	if err != nil {
		return model.OrderRecord{}, err
	}
	return rec, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]model.OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku_id, count, area_id, created_at
		FROM orders ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OrderRecord
	for rows.Next() {
		var (
			rec       model.OrderRecord
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.SKUID, &rec.Count, &rec.AreaID, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
