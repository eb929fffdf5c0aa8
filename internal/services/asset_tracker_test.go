package services

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"sync"
	"testing"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
)

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestAssetReferenceCounting(t *testing.T) {
	env := newTestEnv(t)
	url, fullPath := env.saveAsset(t, env.project.ID, "photo.png", "png-bytes")

	a := env.createElement(t, env.project.Page.ID, `{"type":"image","content":{"url":"`+url+`"}}`)
	b := env.createElement(t, env.project.Page.ID, `{"type":"image","content":{"url":"`+url+`?v=2"}}`)

	if err := env.elements.DeleteElement(env.ctx, a.ID); err != nil {
		t.Fatalf("删除第一个元素失败: %v", err)
	}
	if !fileExists(fullPath) {
		t.Fatal("仍被引用的文件不应被删除")
	}

	if err := env.elements.DeleteElement(env.ctx, b.ID); err != nil {
		t.Fatalf("删除第二个元素失败: %v", err)
	}
	if fileExists(fullPath) {
		t.Fatal("最后一个引用删除后文件应被删除")
	}
}

func TestAssetBatchDeleteRemovesOnce(t *testing.T) {
	env := newTestEnv(t)
	url, fullPath := env.saveAsset(t, env.project.ID, "clip.mp4", "video")

	a := env.createElement(t, env.project.Page.ID, `{"type":"video","content":{"url":"`+url+`"}}`)
	b := env.createElement(t, env.project.Page.ID, `{"type":"video","content":{"url":"`+url+`"}}`)

	n, err := env.elements.DeleteElements(env.ctx, []string{a.ID, b.ID})
	if err != nil || n != 2 {
		t.Fatalf("批量删除失败: %d %v", n, err)
	}
	if fileExists(fullPath) {
		t.Fatal("同批删除全部引用后文件应被删除")
	}
}

func TestAssetConcurrentDeletes(t *testing.T) {
	env := newTestEnv(t)
	url, fullPath := env.saveAsset(t, env.project.ID, "shared.png", "shared")

	a := env.createElement(t, env.project.Page.ID, `{"type":"image","content":{"url":"`+url+`"}}`)
	b := env.createElement(t, env.project.Page.ID, `{"type":"image","content":{"url":"`+url+`"}}`)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			errs <- env.elements.DeleteElement(env.ctx, id)
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("并发删除失败: %v", err)
		}
	}
	if fileExists(fullPath) {
		t.Fatal("两个引用都删除后文件应被删除")
	}
}

func TestAssetMissingFileIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	url, fullPath := env.saveAsset(t, env.project.ID, "gone.png", "x")
	os.Remove(fullPath)

	e := env.createElement(t, env.project.Page.ID, `{"type":"image","content":{"url":"`+url+`"}}`)
	if err := env.elements.DeleteElement(env.ctx, e.ID); err != nil {
		t.Fatalf("文件缺失不应导致删除失败: %v", err)
	}
}

func TestPageDeleteCollectsAssets(t *testing.T) {
	env := newTestEnv(t)
	page, _ := env.pages.CreatePage(env.ctx, CreatePageRequest{StoryboardID: env.project.Storyboard.ID})
	url, fullPath := env.saveAsset(t, env.project.ID, "page.png", "p")
	env.createElement(t, page.ID, `{"type":"image","content":{"url":"`+url+`"}}`)

	if err := env.pages.DeletePage(env.ctx, page.ID); err != nil {
		t.Fatalf("删除页面失败: %v", err)
	}
	if fileExists(fullPath) {
		t.Fatal("级联删除的元素引用的文件应被回收")
	}
}

func TestChapterDeleteCollectsAssets(t *testing.T) {
	env := newTestEnv(t)
	chapter, _ := env.chapters.CreateChapter(env.ctx, CreateChapterRequest{StoryboardID: env.project.Storyboard.ID, Title: "第二章"})
	page, _ := env.pages.CreatePage(env.ctx, CreatePageRequest{StoryboardID: env.project.Storyboard.ID, ChapterID: &chapter.ID})
	url, fullPath := env.saveAsset(t, env.project.ID, "chapter.png", "c")
	keptURL, keptPath := env.saveAsset(t, env.project.ID, "kept.png", "k")
	env.createElement(t, page.ID, `{"type":"image","content":{"url":"`+url+`"}}`)
	env.createElement(t, page.ID, `{"type":"image","content":{"url":"`+keptURL+`"}}`)
	env.createElement(t, env.project.Page.ID, `{"type":"image","content":{"url":"`+keptURL+`"}}`)

	if err := env.chapters.DeleteChapter(env.ctx, chapter.ID); err != nil {
		t.Fatalf("删除章节失败: %v", err)
	}
	if fileExists(fullPath) {
		t.Fatal("章节内元素引用的文件应被回收")
	}
	if !fileExists(keptPath) {
		t.Fatal("章节外仍引用的文件不应被删除")
	}
}

func TestDeleteProjectKeepsAssetsOfMovedPage(t *testing.T) {
	env := newTestEnv(t)
	first := env.project
	url, fullPath := env.saveAsset(t, first.ID, "moved.png", "m")
	_, orphanPath := env.saveAsset(t, first.ID, "orphan.png", "o")
	env.createElement(t, first.Page.ID, `{"type":"image","content":{"url":"`+url+`"}}`)

	second, err := env.projects.CreateProject(env.ctx, "目标项目")
	if err != nil {
		t.Fatalf("创建项目失败: %v", err)
	}
	moved, err := env.pages.MovePageToProject(env.ctx, first.Page.ID, second.ID)
	if err != nil {
		t.Fatalf("跨项目移动失败: %v", err)
	}

	if err := env.projects.DeleteProject(env.ctx, first.ID); err != nil {
		t.Fatalf("删除项目失败: %v", err)
	}
	if !fileExists(fullPath) {
		t.Fatal("被移走页面仍引用的文件不应随原项目删除")
	}
	if fileExists(orphanPath) {
		t.Fatal("原项目中无人引用的文件应被删除")
	}

	if err := env.pages.DeletePage(env.ctx, moved.ID); err != nil {
		t.Fatalf("删除页面失败: %v", err)
	}
	if fileExists(fullPath) {
		t.Fatal("最后一个引用删除后文件应被回收")
	}
}

func TestExportAssetsWithManifest(t *testing.T) {
	env := newTestEnv(t)
	url, _ := env.saveAsset(t, env.project.ID, "keep.png", "keep-bytes")
	missingURL, missingPath := env.saveAsset(t, env.project.ID, "lost.png", "lost")
	os.Remove(missingPath)

	a := env.createElement(t, env.project.Page.ID, `{"type":"image","content":{"url":"`+url+`"}}`)
	b := env.createElement(t, env.project.Page.ID, `{"type":"image","content":{"url":"`+missingURL+`"}}`)
	c := env.createElement(t, env.project.Page.ID, `{"type":"image","content":{"url":"https://cdn.example/x.png"}}`)
	d := env.createElement(t, env.project.Page.ID, `{"type":"text","content":{"text":"无资源"}}`)

	var buf bytes.Buffer
	summary, err := env.export.ExportAssets(env.ctx, []string{a.ID, b.ID, c.ID, d.ID}, &buf)
	if err != nil {
		t.Fatalf("导出失败: %v", err)
	}
	if len(summary.Files) != 1 || len(summary.Missing) != 2 {
		t.Fatalf("导出统计错误: %+v", summary)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("读取压缩包失败: %v", err)
	}
	names := map[string]string{}
	for _, f := range zr.File {
		rc, _ := f.Open()
		data, _ := io.ReadAll(rc)
		rc.Close()
		names[f.Name] = string(data)
	}
	if names[summary.Files[0]] != "keep-bytes" {
		t.Fatalf("压缩包内容错误: %v", names)
	}
	if _, ok := names[MissingManifestName]; !ok {
		t.Fatalf("应包含缺失清单: %v", names)
	}

	if _, err := env.export.ExportAssets(env.ctx, nil, &buf); !apperrors.IsValidationError(err) {
		t.Fatalf("空列表应返回校验错误，实际 %v", err)
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	env.createElement(t, env.project.Page.ID, `{"type":"text","content":{"text":"海边日落"}}`)
	env.createElement(t, env.project.Page.ID, `{"type":"text","content":{"text":"城市夜景"}}`)

	results, err := env.search.Search(env.ctx, "日落", env.project.ID)
	if err != nil {
		t.Fatalf("搜索失败: %v", err)
	}
	if len(results) != 1 || results[0].PageTitle != env.project.Page.Title {
		t.Fatalf("搜索结果错误: %+v", results)
	}
	if _, err := env.search.Search(env.ctx, "  ", ""); !apperrors.IsValidationError(err) {
		t.Fatalf("空关键词应返回校验错误，实际 %v", err)
	}
}

func TestSearchMatchesHTMLCharacters(t *testing.T) {
	env := newTestEnv(t)
	env.createElement(t, env.project.Page.ID, `{"type":"text","content":{"text":"Q&A <intro>"}}`)

	for _, keyword := range []string{"Q&A", "<intro>"} {
		results, err := env.search.Search(env.ctx, keyword, env.project.ID)
		if err != nil {
			t.Fatalf("搜索 %q 失败: %v", keyword, err)
		}
		if len(results) != 1 {
			t.Fatalf("搜索 %q 应命中 1 个元素，实际 %d", keyword, len(results))
		}
	}
}
