package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAssetStorageSaveLocateRemove(t *testing.T) {
	as, err := NewAssetStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建资源存储失败: %v", err)
	}

	name, url, err := as.Save("p1", "镜头.PNG", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}
	if !strings.HasSuffix(name, ".png") {
		t.Fatalf("文件名应保留小写扩展名: %s", name)
	}
	if url != "/uploads/p1/"+name {
		t.Fatalf("URL 不正确: %s", url)
	}

	full, ok := as.Locate(url + "?v=2")
	if !ok {
		t.Fatalf("应能解析上传 URL: %s", url)
	}
	if !as.Exists(full) {
		t.Fatalf("文件应存在: %s", full)
	}

	removed, err := as.Remove(full)
	if err != nil || !removed {
		t.Fatalf("删除文件失败: removed=%v err=%v", removed, err)
	}
	removed, err = as.Remove(full)
	if err != nil || removed {
		t.Fatalf("重复删除应静默跳过: removed=%v err=%v", removed, err)
	}
}

func TestAssetStorageLocateRejectsOutside(t *testing.T) {
	as, err := NewAssetStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建资源存储失败: %v", err)
	}

	for _, u := range []string{
		"",
		"https://cdn.example.com/video.mp4",
		"/uploads/../secret.txt",
		"/static/p1/a.png",
	} {
		if _, ok := as.Locate(u); ok {
			t.Errorf("不应解析为本地文件: %q", u)
		}
	}

	if _, ok := as.Locate("http://localhost:8080/uploads/p1/a.png"); !ok {
		t.Error("带主机名的上传 URL 应该可以解析")
	}
}

func TestAssetStorageProjectFiles(t *testing.T) {
	base := t.TempDir()
	as, err := NewAssetStorage(base)
	if err != nil {
		t.Fatalf("创建资源存储失败: %v", err)
	}
	name, _, err := as.Save("p1", "a.mp4", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}

	files, err := as.ProjectFiles("p1")
	if err != nil {
		t.Fatalf("列出项目文件失败: %v", err)
	}
	if len(files) != 1 || files[name] != filepath.Join(base, "p1", name) {
		t.Fatalf("项目文件列表不正确: %v", files)
	}

	// 仍有文件时目录保留
	removed, err := as.RemoveProjectIfEmpty("p1")
	if err != nil || removed {
		t.Fatalf("非空目录不应删除: removed=%v err=%v", removed, err)
	}

	if _, err := as.Remove(files[name]); err != nil {
		t.Fatalf("删除文件失败: %v", err)
	}
	removed, err = as.RemoveProjectIfEmpty("p1")
	if err != nil || !removed {
		t.Fatalf("空目录应被删除: removed=%v err=%v", removed, err)
	}
	if _, err := os.Stat(filepath.Join(base, "p1")); !os.IsNotExist(err) {
		t.Fatalf("项目目录应被删除: %v", err)
	}

	if files, err := as.ProjectFiles("p1"); err != nil || len(files) != 0 {
		t.Fatalf("目录不存在时应返回空列表: %v %v", files, err)
	}
	if _, err := as.RemoveProjectIfEmpty("../x"); err == nil {
		t.Fatal("非法项目ID应报错")
	}
}
