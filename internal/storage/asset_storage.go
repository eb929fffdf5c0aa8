// internal/storage/asset_storage.go
package storage

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultURLPrefix 上传文件对外暴露的路径前缀
const DefaultURLPrefix = "/uploads"

// AssetStorage 按项目分目录保存上传文件
type AssetStorage struct {
	BaseDir   string
	URLPrefix string

	// 并发控制
	fileLocks sync.Map // 文件级别锁 path -> *sync.RWMutex
}

// NewAssetStorage 创建资源存储
func NewAssetStorage(baseDir string) (*AssetStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建上传目录失败: %w", err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("解析上传目录失败: %w", err)
	}
	return &AssetStorage{BaseDir: abs, URLPrefix: DefaultURLPrefix}, nil
}

// 获取文件锁
func (as *AssetStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := as.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// projectDir 项目的资源目录
func (as *AssetStorage) projectDir(projectID string) (string, error) {
	if !validSegment(projectID) {
		return "", fmt.Errorf("无效的项目ID: %q", projectID)
	}
	return filepath.Join(as.BaseDir, projectID), nil
}

// Save 以随机文件名保存上传内容，返回文件名与访问 URL
func (as *AssetStorage) Save(projectID, originalName string, r io.Reader) (string, string, error) {
	dir, err := as.projectDir(projectID)
	if err != nil {
		return "", "", err
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\?#`) {
		ext = ""
	}
	fileName := uuid.NewString() + ext
	fullPath := filepath.Join(dir, fileName)

	lock := as.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("创建目录失败: %w", err)
	}

	// 原子性文件写入
	tempPath := fullPath + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return "", "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return "", "", fmt.Errorf("写入文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", "", fmt.Errorf("写入文件失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		_ = os.Remove(tempPath)
		return "", "", fmt.Errorf("保存文件失败: %w", err)
	}

	return fileName, as.URL(projectID, fileName), nil
}

// URL 文件的访问地址
func (as *AssetStorage) URL(projectID, fileName string) string {
	return path.Join(as.URLPrefix, projectID, fileName)
}

// Locate 把上传 URL 解析为磁盘路径；非本地上传的 URL 返回 false
func (as *AssetStorage) Locate(rawURL string) (string, bool) {
	if rawURL == "" {
		return "", false
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	prefix := strings.TrimSuffix(as.URLPrefix, "/") + "/"
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	rel := path.Clean(strings.TrimPrefix(p, prefix))
	if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
		return "", false
	}
	fullPath := filepath.Join(as.BaseDir, filepath.FromSlash(rel))
	if !strings.HasPrefix(fullPath, as.BaseDir+string(filepath.Separator)) {
		return "", false
	}
	return fullPath, true
}

// Exists 检查文件是否存在
func (as *AssetStorage) Exists(fullPath string) bool {
	info, err := os.Stat(fullPath)
	return err == nil && !info.IsDir()
}

// Open 以读锁打开文件，调用方负责关闭
func (as *AssetStorage) Open(fullPath string) (io.ReadCloser, error) {
	lock := as.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()
	return os.Open(fullPath)
}

// Remove 删除文件；文件不存在时返回 false 且不报错
func (as *AssetStorage) Remove(fullPath string) (bool, error) {
	lock := as.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("删除文件失败: %w", err)
	}
	as.fileLocks.Delete(fullPath)
	return true, nil
}

// ProjectFiles 项目目录下已保存的文件，返回文件名与磁盘路径；目录不存在时为空
func (as *AssetStorage) ProjectFiles(projectID string) (map[string]string, error) {
	dir, err := as.projectDir(projectID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("读取项目目录失败: %w", err)
	}

	files := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		files[entry.Name()] = filepath.Join(dir, entry.Name())
	}
	return files, nil
}

// RemoveProjectIfEmpty 目录为空时删除项目目录，仍有文件时保留并返回 false
func (as *AssetStorage) RemoveProjectIfEmpty(projectID string) (bool, error) {
	dir, err := as.projectDir(projectID)
	if err != nil {
		return false, err
	}
	lock := as.getFileLock(dir)
	lock.Lock()
	defer lock.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("读取项目目录失败: %w", err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("删除目录失败: %w", err)
	}
	as.fileLocks.Delete(dir)
	return true, nil
}

// ProjectDir 项目资源目录，不存在时创建
func (as *AssetStorage) ProjectDir(projectID string) (string, error) {
	dir, err := as.projectDir(projectID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}
	return dir, nil
}
