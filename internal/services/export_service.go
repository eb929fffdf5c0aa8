// internal/services/export_service.go
package services

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/Corphon/StoryboardSync/internal/utils"
)

// MissingManifestName 缺失资源清单文件名
const MissingManifestName = "missing_assets.txt"

// ExportService 打包元素引用的上传文件
type ExportService struct {
	store  *storage.Store
	assets *storage.AssetStorage
}

// ExportSummary 导出结果统计
type ExportSummary struct {
	Files   []string `json:"files"`
	Missing []string `json:"missing"`
}

// NewExportService 创建导出服务
func NewExportService(store *storage.Store, assets *storage.AssetStorage) *ExportService {
	return &ExportService{store: store, assets: assets}
}

// ExportAssets 把元素引用的文件写成 zip，缺失或无法读取的资源记入清单
func (s *ExportService) ExportAssets(ctx context.Context, ids []string, w io.Writer) (*ExportSummary, error) {
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("缺少元素ID", nil)
	}
	elements, err := s.store.GetElements(ctx, ids)
	if err != nil {
		return nil, storeErr(err)
	}

	summary := &ExportSummary{Files: []string{}, Missing: []string{}}
	zw := zip.NewWriter(w)
	seen := make(map[string]bool)

	for _, e := range elements {
		url := e.Content.GetString("url")
		if url == "" {
			continue
		}
		fullPath, ok := s.assets.Locate(url)
		if !ok {
			summary.Missing = append(summary.Missing, fmt.Sprintf("%s\t%s\t非本地资源", e.ID, url))
			continue
		}
		name := e.Content.AssetFileName()
		if seen[name] {
			continue
		}
		if !s.assets.Exists(fullPath) {
			summary.Missing = append(summary.Missing, fmt.Sprintf("%s\t%s\t文件不存在", e.ID, url))
			continue
		}
		if err := s.addFile(zw, name, fullPath); err != nil {
			utils.GetLogger().Warn("导出资源失败", map[string]interface{}{
				"element_id": e.ID,
				"file":       name,
				"error":      err.Error(),
			})
			summary.Missing = append(summary.Missing, fmt.Sprintf("%s\t%s\t%s", e.ID, url, err.Error()))
			continue
		}
		seen[name] = true
		summary.Files = append(summary.Files, name)
	}

	if len(summary.Missing) > 0 {
		mw, err := zw.Create(MissingManifestName)
		if err != nil {
			return nil, apperrors.NewProcessingError("写入清单失败", err)
		}
		if _, err := io.WriteString(mw, strings.Join(summary.Missing, "\n")+"\n"); err != nil {
			return nil, apperrors.NewProcessingError("写入清单失败", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, apperrors.NewProcessingError("生成压缩包失败", err)
	}
	return summary, nil
}

func (s *ExportService) addFile(zw *zip.Writer, name, fullPath string) error {
	src, err := s.assets.Open(fullPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}
