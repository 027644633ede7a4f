package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"jd_buyer/internal/model"
)

const taskParamsKey = "default"

// GetTaskParams 读取持久化的下单任务参数（对应原来的 config.json）。
// 第二个返回值为 false 表示还没保存过。
func (s *Store) GetTaskParams(ctx context.Context) (model.TaskParams, bool, error) {
	var valueJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT value_json FROM task_params WHERE key = ?
	`, taskParamsKey).Scan(&valueJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TaskParams{}, false, nil
		}
		return model.TaskParams{}, false, err
	}
	var out model.TaskParams
	if err := json.Unmarshal([]byte(valueJSON), &out); err != nil {
		return model.TaskParams{}, false, err
	}
	return out, true, nil
}

func (s *Store) UpsertTaskParams(ctx context.Context, p model.TaskParams) (model.TaskParams, error) {
	p.Normalize()
	b, err := json.Marshal(p)
	if err != nil {
		return model.TaskParams{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_params (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`, taskParamsKey, string(b), time.Now().UnixMilli())
	if err != nil {
		return model.TaskParams{}, err
	}
	return p, nil
}
