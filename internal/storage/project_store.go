// internal/storage/project_store.go
package storage

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/models"
)

// ProjectStore 项目、小说章节、故事线与对话历史
type ProjectStore struct {
	db *DB
}

func NewProjectStore(db *DB) *ProjectStore {
	return &ProjectStore{db: db}
}

// CreateProject 新建项目并回填 ID
func (s *ProjectStore) CreateProject(ctx context.Context, p *models.Project) error {
	res, err := s.db.Conn.ExecContext(ctx,
		`INSERT INTO projects (name, intro, type, art_style, video_ratio) VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.Intro, p.Type, p.ArtStyle, p.VideoRatio)
	if err != nil {
		return apperrors.Wrap(err, "insert project")
	}
	p.ID, err = res.LastInsertId()
	return err
}

// GetProject 按 ID 查询，不存在返回 NotFound
func (s *ProjectStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	err := s.db.Conn.QueryRowContext(ctx,
		`SELECT id, name, intro, type, art_style, video_ratio, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Intro, &p.Type, &p.ArtStyle, &p.VideoRatio, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("项目不存在: %d", id), nil)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "query project")
	}
	return &p, nil
}

// AddChapters 批量写入章节
func (s *ProjectStore) AddChapters(ctx context.Context, projectID int64, chapters []models.Chapter) error {
	tx, err := s.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO novels (project_id, chapter_index, reel, chapter, chapter_data) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return apperrors.Wrap(err, "prepare chapter insert")
	}
	defer stmt.Close()

	for _, c := range chapters {
		if _, err := stmt.ExecContext(ctx, projectID, c.ChapterIndex, c.Reel, c.Chapter, c.ChapterData); err != nil {
			return apperrors.Wrapf(err, "insert chapter %d", c.ChapterIndex)
		}
	}
	return tx.Commit()
}

// ListChapters 章节目录（不含正文）
func (s *ProjectStore) ListChapters(ctx context.Context, projectID int64) ([]models.Chapter, error) {
	rows, err := s.db.Conn.QueryContext(ctx,
		`SELECT id, project_id, chapter_index, reel, chapter FROM novels WHERE project_id = ? ORDER BY chapter_index`, projectID)
	if err != nil {
		return nil, apperrors.Wrap(err, "list chapters")
	}
	defer rows.Close()

	var out []models.Chapter
	for rows.Next() {
		var c models.Chapter
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.ChapterIndex, &c.Reel, &c.Chapter); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChapter 按章节号取正文
func (s *ProjectStore) GetChapter(ctx context.Context, projectID int64, index int) (*models.Chapter, error) {
	var c models.Chapter
	err := s.db.Conn.QueryRowContext(ctx,
		`SELECT id, project_id, chapter_index, reel, chapter, chapter_data FROM novels
		 WHERE project_id = ? AND chapter_index = ? LIMIT 1`, projectID, index).
		Scan(&c.ID, &c.ProjectID, &c.ChapterIndex, &c.Reel, &c.Chapter, &c.ChapterData)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("章节不存在: %d", index), nil)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "query chapter")
	}
	return &c, nil
}

// GetStoryline 无故事线时返回 NotFound
func (s *ProjectStore) GetStoryline(ctx context.Context, projectID int64) (*models.Storyline, error) {
	var sl models.Storyline
	err := s.db.Conn.QueryRowContext(ctx,
		`SELECT id, project_id, content, updated_at FROM storylines WHERE project_id = ?`, projectID).
		Scan(&sl.ID, &sl.ProjectID, &sl.Content, &sl.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("故事线不存在", nil)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "query storyline")
	}
	return &sl, nil
}

// SaveStoryline 覆盖写入
func (s *ProjectStore) SaveStoryline(ctx context.Context, projectID int64, content string) error {
	_, err := s.db.Conn.ExecContext(ctx,
		`INSERT INTO storylines (project_id, content, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(project_id) DO UPDATE SET content = excluded.content, updated_at = CURRENT_TIMESTAMP`,
		projectID, content)
	return apperrors.Wrap(err, "save storyline")
}

// DeleteStoryline 返回删除行数
func (s *ProjectStore) DeleteStoryline(ctx context.Context, projectID int64) (int64, error) {
	res, err := s.db.Conn.ExecContext(ctx, `DELETE FROM storylines WHERE project_id = ?`, projectID)
	if err != nil {
		return 0, apperrors.Wrap(err, "delete storyline")
	}
	return res.RowsAffected()
}

// LoadHistory 读取对话历史 JSON，没有记录时返回空串
func (s *ProjectStore) LoadHistory(ctx context.Context, projectID int64, kind string) (string, error) {
	var data string
	err := s.db.Conn.QueryRowContext(ctx,
		`SELECT data FROM chat_histories WHERE project_id = ? AND kind = ?`, projectID, kind).Scan(&data)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Wrap(err, "load chat history")
	}
	return data, nil
}

// SaveHistory 覆盖写入对话历史
func (s *ProjectStore) SaveHistory(ctx context.Context, projectID int64, kind, data string) error {
	_, err := s.db.Conn.ExecContext(ctx,
		`INSERT INTO chat_histories (project_id, kind, data, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(project_id, kind) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
		projectID, kind, data)
	return apperrors.Wrap(err, "save chat history")
}
