// internal/storage/db.go
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/utils"
)

// DB sqlite 连接
type DB struct {
	Conn *sql.DB
	Path string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		intro TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		art_style TEXT NOT NULL DEFAULT '',
		video_ratio TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS novels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		chapter_index INTEGER NOT NULL,
		reel TEXT NOT NULL DEFAULT '',
		chapter TEXT NOT NULL DEFAULT '',
		chapter_data TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_novels_project ON novels(project_id, chapter_index)`,
	`CREATE TABLE IF NOT EXISTS storylines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL UNIQUE,
		content TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS outlines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		episode INTEGER NOT NULL,
		data TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outlines_project ON outlines(project_id, episode)`,
	`CREATE TABLE IF NOT EXISTS scripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		outline_id INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scripts_outline ON scripts(outline_id)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		intro TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		sort INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_lookup ON assets(project_id, type, name)`,
	`CREATE TABLE IF NOT EXISTS prompts (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		default_value TEXT NOT NULL DEFAULT '',
		custom_value TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS chat_histories (
		project_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '[]',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (project_id, kind)
	)`,
}

// Open 打开（必要时创建）数据库文件
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.Wrap(err, "创建数据库目录失败")
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to open SQLite database")
	}
	// sqlite 单写者
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(err, "SQLite database ping failed")
	}
	return &DB{Conn: conn, Path: path}, nil
}

// Migrate 建表，可重复执行
func (db *DB) Migrate(ctx context.Context) error {
	tx, err := db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, "begin migration")
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return apperrors.Wrap(err, "migration failed")
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, "commit migration")
	}

	utils.GetLogger().Info("数据库迁移完成", map[string]interface{}{"path": db.Path})
	return nil
}

// Close 关闭连接
func (db *DB) Close() error {
	if db.Conn != nil {
		return db.Conn.Close()
	}
	return nil
}

// inClause 生成 "?,?,?" 与参数
func inClause[T any](vals []T) (string, []interface{}) {
	marks := make([]byte, 0, len(vals)*2)
	args := make([]interface{}, 0, len(vals))
	for i, v := range vals {
		if i > 0 {
			marks = append(marks, ',')
		}
		marks = append(marks, '?')
		args = append(args, v)
	}
	return string(marks), args
}
