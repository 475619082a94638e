// internal/storage/prompt_store.go
package storage

import (
	"context"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/models"
)

// 提示词编码
const (
	PromptOutlineMain     = "outlineScript-main"
	PromptOutlineA1       = "outlineScript-a1"
	PromptOutlineA2       = "outlineScript-a2"
	PromptOutlineDirector = "outlineScript-director"
	PromptStoryboardMain  = "storyboard-main"
	PromptSegment         = "storyboard-segment"
	PromptShot            = "storyboard-shot"
	PromptGridImage       = "generateImagePrompts"
)

// PromptStore 系统提示词，自定义值覆盖默认值
type PromptStore struct {
	db *DB
}

func NewPromptStore(db *DB) *PromptStore {
	return &PromptStore{db: db}
}

// Seed 写入默认值；已存在的记录只刷新名称和默认值，不动自定义值
func (s *PromptStore) Seed(ctx context.Context, prompts []models.Prompt) error {
	tx, err := s.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	for _, p := range prompts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO prompts (code, name, default_value, custom_value) VALUES (?, ?, ?, '')
			 ON CONFLICT(code) DO UPDATE SET name = excluded.name, default_value = excluded.default_value`,
			p.Code, p.Name, p.DefaultValue); err != nil {
			return apperrors.Wrapf(err, "seed prompt %s", p.Code)
		}
	}
	return tx.Commit()
}

// Resolve 返回生效的提示词；未配置时返回空串
func (s *PromptStore) Resolve(ctx context.Context, code string) (string, error) {
	values, err := s.ResolveMany(ctx, code)
	if err != nil {
		return "", err
	}
	return values[code], nil
}

// ResolveMany 批量读取，缺失的编码不出现在结果中
func (s *PromptStore) ResolveMany(ctx context.Context, codes ...string) (map[string]string, error) {
	out := make(map[string]string, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	marks, args := inClause(codes)
	rows, err := s.db.Conn.QueryContext(ctx,
		`SELECT code, name, default_value, custom_value FROM prompts WHERE code IN (`+marks+`)`, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "query prompts")
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.Code, &p.Name, &p.DefaultValue, &p.CustomValue); err != nil {
			return nil, err
		}
		if v := p.Value(); v != "" {
			out[p.Code] = v
		}
	}
	return out, rows.Err()
}

// SetCustom 设置自定义值，传空串恢复默认
func (s *PromptStore) SetCustom(ctx context.Context, code, value string) error {
	res, err := s.db.Conn.ExecContext(ctx, `UPDATE prompts SET custom_value = ? WHERE code = ?`, value, code)
	if err != nil {
		return apperrors.Wrap(err, "update prompt")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("提示词不存在: "+code, nil)
	}
	return nil
}

// List 全部提示词
func (s *PromptStore) List(ctx context.Context) ([]models.Prompt, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `SELECT code, name, default_value, custom_value FROM prompts ORDER BY code`)
	if err != nil {
		return nil, apperrors.Wrap(err, "list prompts")
	}
	defer rows.Close()

	var out []models.Prompt
	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.Code, &p.Name, &p.DefaultValue, &p.CustomValue); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
