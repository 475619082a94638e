// internal/storage/outline_store.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/models"
)

// OutlineStore 大纲与剧本
type OutlineStore struct {
	db *DB
}

func NewOutlineStore(db *DB) *OutlineStore {
	return &OutlineStore{db: db}
}

// decodeEpisode data 列损坏时退化为空大纲，不影响列表
func decodeEpisode(raw string) models.Episode {
	var ep models.Episode
	if raw == "" {
		return ep
	}
	_ = json.Unmarshal([]byte(raw), &ep)
	return ep
}

// ListOutlines 按集数升序
func (s *OutlineStore) ListOutlines(ctx context.Context, projectID int64) ([]models.Outline, error) {
	rows, err := s.db.Conn.QueryContext(ctx,
		`SELECT id, project_id, episode, data FROM outlines WHERE project_id = ? ORDER BY episode, id`, projectID)
	if err != nil {
		return nil, apperrors.Wrap(err, "list outlines")
	}
	defer rows.Close()

	var out []models.Outline
	for rows.Next() {
		var o models.Outline
		var raw string
		if err := rows.Scan(&o.ID, &o.ProjectID, &o.Episode, &raw); err != nil {
			return nil, err
		}
		o.Data = decodeEpisode(raw)
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetOutline 按 ID 查询
func (s *OutlineStore) GetOutline(ctx context.Context, projectID, id int64) (*models.Outline, error) {
	var o models.Outline
	var raw string
	err := s.db.Conn.QueryRowContext(ctx,
		`SELECT id, project_id, episode, data FROM outlines WHERE id = ? AND project_id = ?`, id, projectID).
		Scan(&o.ID, &o.ProjectID, &o.Episode, &raw)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("大纲不存在: %d", id), nil)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "query outline")
	}
	o.Data = decodeEpisode(raw)
	return &o, nil
}

// CountOutlines 项目大纲集数
func (s *OutlineStore) CountOutlines(ctx context.Context, projectID int64) (int, error) {
	var n int
	err := s.db.Conn.QueryRowContext(ctx, `SELECT COUNT(id) FROM outlines WHERE project_id = ?`, projectID).Scan(&n)
	return n, apperrors.Wrap(err, "count outlines")
}

// MaxEpisode 当前最大集数，无大纲时为 0
func (s *OutlineStore) MaxEpisode(ctx context.Context, projectID int64) (int, error) {
	var maxEp sql.NullInt64
	err := s.db.Conn.QueryRowContext(ctx, `SELECT MAX(episode) FROM outlines WHERE project_id = ?`, projectID).Scan(&maxEp)
	if err != nil {
		return 0, apperrors.Wrap(err, "max episode")
	}
	return int(maxEp.Int64), nil
}

// SaveResult saveOutline 的写入统计
type SaveResult struct {
	Inserted int
	Scripts  int
}

// SaveOutlines 写入多集大纲，并为每集建一个空剧本。
// overwrite 时先清空项目下所有大纲及其剧本，从第 1 集开始编号；
// 否则从 startEpisode（<=0 时取 max+1）开始。整个过程在一个事务内。
func (s *OutlineStore) SaveOutlines(ctx context.Context, projectID int64, episodes []models.Episode, overwrite bool, startEpisode int) (*SaveResult, error) {
	tx, err := s.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	start := 1
	if overwrite {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM scripts WHERE outline_id IN (SELECT id FROM outlines WHERE project_id = ?)`, projectID); err != nil {
			return nil, apperrors.Wrap(err, "clear scripts")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM outlines WHERE project_id = ?`, projectID); err != nil {
			return nil, apperrors.Wrap(err, "clear outlines")
		}
	} else if startEpisode > 0 {
		start = startEpisode
	} else {
		var maxEp sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(episode) FROM outlines WHERE project_id = ?`, projectID).Scan(&maxEp); err != nil {
			return nil, apperrors.Wrap(err, "max episode")
		}
		start = int(maxEp.Int64) + 1
	}

	result := &SaveResult{}
	for i, ep := range episodes {
		episode := start + i
		ep.EpisodeIndex = episode
		raw, err := json.Marshal(ep)
		if err != nil {
			return nil, apperrors.Wrap(err, "encode outline")
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO outlines (project_id, episode, data) VALUES (?, ?, ?)`, projectID, episode, string(raw))
		if err != nil {
			return nil, apperrors.Wrapf(err, "insert outline %d", episode)
		}
		result.Inserted++

		outlineID, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scripts (project_id, outline_id, name, content) VALUES (?, ?, ?, '')`,
			projectID, outlineID, fmt.Sprintf("Episode %d", episode)); err != nil {
			return nil, apperrors.Wrapf(err, "insert script for outline %d", outlineID)
		}
		result.Scripts++
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Wrap(err, "commit outlines")
	}
	return result, nil
}

// UpdateOutline 替换单集内容，集数保持不变；返回是否命中
func (s *OutlineStore) UpdateOutline(ctx context.Context, projectID, id int64, ep models.Episode) (bool, error) {
	existing, err := s.GetOutline(ctx, projectID, id)
	if apperrors.IsNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ep.EpisodeIndex = existing.Episode
	raw, err := json.Marshal(ep)
	if err != nil {
		return false, apperrors.Wrap(err, "encode outline")
	}
	res, err := s.db.Conn.ExecContext(ctx,
		`UPDATE outlines SET data = ? WHERE id = ? AND project_id = ?`, string(raw), id, projectID)
	if err != nil {
		return false, apperrors.Wrap(err, "update outline")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteOutline 删除大纲及其空剧本；已有内容的剧本保留
func (s *OutlineStore) DeleteOutline(ctx context.Context, projectID, id int64) error {
	tx, err := s.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM outlines WHERE id = ? AND project_id = ?`, id, projectID)
	if err != nil {
		return apperrors.Wrap(err, "delete outline")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("大纲不存在: %d", id), nil)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scripts WHERE outline_id = ? AND content = ''`, id); err != nil {
		return apperrors.Wrap(err, "delete scripts")
	}
	return apperrors.Wrap(tx.Commit(), "commit delete outline")
}

// GetScript 按 ID 查询剧本
func (s *OutlineStore) GetScript(ctx context.Context, projectID, id int64) (*models.Script, error) {
	var sc models.Script
	err := s.db.Conn.QueryRowContext(ctx,
		`SELECT id, project_id, outline_id, name, content FROM scripts WHERE id = ? AND project_id = ?`, id, projectID).
		Scan(&sc.ID, &sc.ProjectID, &sc.OutlineID, &sc.Name, &sc.Content)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("剧本不存在: %d", id), nil)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "query script")
	}
	return &sc, nil
}

// UpdateScriptContent 写入剧本正文
func (s *OutlineStore) UpdateScriptContent(ctx context.Context, projectID, id int64, content string) error {
	res, err := s.db.Conn.ExecContext(ctx,
		`UPDATE scripts SET content = ? WHERE id = ? AND project_id = ?`, content, id, projectID)
	if err != nil {
		return apperrors.Wrap(err, "update script")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("剧本不存在: %d", id), nil)
	}
	return nil
}

// ListScripts 项目下所有剧本
func (s *OutlineStore) ListScripts(ctx context.Context, projectID int64) ([]models.Script, error) {
	rows, err := s.db.Conn.QueryContext(ctx,
		`SELECT id, project_id, outline_id, name, content FROM scripts WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, apperrors.Wrap(err, "list scripts")
	}
	defer rows.Close()

	var out []models.Script
	for rows.Next() {
		var sc models.Script
		if err := rows.Scan(&sc.ID, &sc.ProjectID, &sc.OutlineID, &sc.Name, &sc.Content); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
