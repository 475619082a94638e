// internal/storage/asset_store.go
package storage

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/models"
)

// AssetStore 项目资产
type AssetStore struct {
	db *DB
}

func NewAssetStore(db *DB) *AssetStore {
	return &AssetStore{db: db}
}

const assetColumns = `id, project_id, type, name, intro, prompt, file_path, state, sort`

// 角色 → 场景 → 道具
const assetOrder = `ORDER BY CASE type WHEN 'role' THEN 0 WHEN 'scene' THEN 1 WHEN 'props' THEN 2 ELSE 3 END, sort, id`

func scanAssets(rows *sql.Rows) ([]models.Asset, error) {
	defer rows.Close()
	var out []models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Type, &a.Name, &a.Intro, &a.Prompt, &a.FilePath, &a.State, &a.Sort); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindByTypeAndName 复合键查询，不存在返回 NotFound
func (s *AssetStore) FindByTypeAndName(ctx context.Context, projectID int64, assetType, name string) (*models.Asset, error) {
	var a models.Asset
	err := s.db.Conn.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE project_id = ? AND type = ? AND name = ? ORDER BY id LIMIT 1`,
		projectID, assetType, name).
		Scan(&a.ID, &a.ProjectID, &a.Type, &a.Name, &a.Intro, &a.Prompt, &a.FilePath, &a.State, &a.Sort)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("资产不存在: %s/%s", assetType, name), nil)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "query asset")
	}
	return &a, nil
}

// Insert 新增资产并回填 ID
func (s *AssetStore) Insert(ctx context.Context, a *models.Asset) error {
	res, err := s.db.Conn.ExecContext(ctx,
		`INSERT INTO assets (project_id, type, name, intro, prompt, file_path, state, sort) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ProjectID, a.Type, a.Name, a.Intro, a.Prompt, a.FilePath, a.State, a.Sort)
	if err != nil {
		return apperrors.Wrap(err, "insert asset")
	}
	a.ID, err = res.LastInsertId()
	return err
}

// UpdateDescription 同时更新 intro 与 prompt
func (s *AssetStore) UpdateDescription(ctx context.Context, id int64, intro, prompt string) error {
	_, err := s.db.Conn.ExecContext(ctx, `UPDATE assets SET intro = ?, prompt = ? WHERE id = ?`, intro, prompt, id)
	return apperrors.Wrap(err, "update asset")
}

// SetFilePath 记录参考图路径
func (s *AssetStore) SetFilePath(ctx context.Context, id int64, path string) error {
	_, err := s.db.Conn.ExecContext(ctx, `UPDATE assets SET file_path = ?, state = 'done' WHERE id = ?`, path, id)
	return apperrors.Wrap(err, "update asset file")
}

// ListByProject 按展示顺序列出
func (s *AssetStore) ListByProject(ctx context.Context, projectID int64) ([]models.Asset, error) {
	rows, err := s.db.Conn.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE project_id = ? `+assetOrder, projectID)
	if err != nil {
		return nil, apperrors.Wrap(err, "list assets")
	}
	return scanAssets(rows)
}

// ListWithImages 名称在 names 内且已有参考图的资产，按展示顺序。
// 不同类型同名时只保留排在前面的一条 (角色 > 场景 > 道具)
func (s *AssetStore) ListWithImages(ctx context.Context, projectID int64, names []string) ([]models.Asset, error) {
	if len(names) == 0 {
		return nil, nil
	}
	marks, args := inClause(names)
	args = append([]interface{}{projectID}, args...)
	rows, err := s.db.Conn.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE project_id = ? AND name IN (`+marks+`) AND file_path != '' `+assetOrder,
		args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "list assets with images")
	}
	assets, err := scanAssets(rows)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(assets))
	out := assets[:0]
	for _, a := range assets {
		if seen[a.Name] {
			continue
		}
		seen[a.Name] = true
		out = append(out, a)
	}
	return out, nil
}
