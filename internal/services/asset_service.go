// internal/services/asset_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/models"
	"github.com/Corphon/DramaForge/internal/storage"
	"github.com/Corphon/DramaForge/internal/utils"
)

// AssetSyncStats 一次同步的统计
type AssetSyncStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// String 工具回复使用的摘要
func (s AssetSyncStats) String() string {
	return fmt.Sprintf("inserted %d, updated %d, kept %d", s.Inserted, s.Updated, s.Skipped)
}

// AssetService 从大纲中抽取角色/道具/场景并写入资产表
type AssetService struct {
	outlines *storage.OutlineStore
	assets   *storage.AssetStore
	locks    *LockManager
}

// NewAssetService 创建资产服务
func NewAssetService(outlines *storage.OutlineStore, assets *storage.AssetStore, locks *LockManager) *AssetService {
	return &AssetService{outlines: outlines, assets: assets, locks: locks}
}

// CollectAssets 汇总所有大纲中的资产；每类按名称去重，先出现者为准
func CollectAssets(outlines []models.Outline) (characters, props, scenes []models.AssetItem) {
	seen := map[string]map[string]bool{
		models.AssetRole:  {},
		models.AssetProps: {},
		models.AssetScene: {},
	}
	add := func(kind string, dst []models.AssetItem, items []models.AssetItem) []models.AssetItem {
		for _, it := range items {
			name := strings.TrimSpace(it.Name)
			if name == "" || seen[kind][name] {
				continue
			}
			seen[kind][name] = true
			dst = append(dst, models.AssetItem{Name: name, Description: it.Description})
		}
		return dst
	}
	for _, o := range outlines {
		characters = add(models.AssetRole, characters, o.Data.Characters)
		props = add(models.AssetProps, props, o.Data.Props)
		scenes = add(models.AssetScene, scenes, o.Data.Scenes)
	}
	return characters, props, scenes
}

// SyncFromOutlines 只增不删：新资产插入，描述变化时更新 intro 与 prompt，其余跳过。
// 同一项目串行执行。
func (s *AssetService) SyncFromOutlines(ctx context.Context, projectID int64) (AssetSyncStats, error) {
	var stats AssetSyncStats

	err := s.locks.ExecuteWithLock(fmt.Sprintf("assets:%d", projectID), func() error {
		outlines, err := s.outlines.ListOutlines(ctx, projectID)
		if err != nil {
			return err
		}
		characters, props, scenes := CollectAssets(outlines)

		// 角色 → 道具 → 场景
		groups := []struct {
			kind  string
			items []models.AssetItem
		}{
			{models.AssetRole, characters},
			{models.AssetProps, props},
			{models.AssetScene, scenes},
		}
		for _, g := range groups {
			for _, item := range g.items {
				if err := s.upsert(ctx, projectID, g.kind, item, &stats); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	utils.GetLogger().Info("assets synced from outlines", map[string]interface{}{
		"project_id": projectID,
		"inserted":   stats.Inserted,
		"updated":    stats.Updated,
		"skipped":    stats.Skipped,
	})
	return stats, nil
}

func (s *AssetService) upsert(ctx context.Context, projectID int64, kind string, item models.AssetItem, stats *AssetSyncStats) error {
	existing, err := s.assets.FindByTypeAndName(ctx, projectID, kind, item.Name)
	switch {
	case apperrors.IsNotFoundError(err):
		asset := &models.Asset{
			ProjectID: projectID,
			Type:      kind,
			Name:      item.Name,
			Intro:     item.Description,
			Prompt:    item.Description,
		}
		if err := s.assets.Insert(ctx, asset); err != nil {
			return err
		}
		stats.Inserted++
	case err != nil:
		return err
	case existing.Intro != item.Description:
		if err := s.assets.UpdateDescription(ctx, existing.ID, item.Description, item.Description); err != nil {
			return err
		}
		stats.Updated++
	default:
		stats.Skipped++
	}
	return nil
}

// ListAssets 项目资产列表
func (s *AssetService) ListAssets(ctx context.Context, projectID int64) ([]models.Asset, error) {
	return s.assets.ListByProject(ctx, projectID)
}
