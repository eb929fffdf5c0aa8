package services

import (
	"errors"
	"testing"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
)

func TestChapterCreateAppendsAndReorders(t *testing.T) {
	env := newTestEnv(t)
	sbID := env.project.Storyboard.ID

	second, err := env.chapters.CreateChapter(env.ctx, CreateChapterRequest{StoryboardID: sbID, Title: "第二章"})
	if err != nil {
		t.Fatalf("创建章节失败: %v", err)
	}
	if second.OrderIndex != 1 {
		t.Fatalf("新章节应追加在末尾，实际 order_index=%d", second.OrderIndex)
	}

	// 反转顺序
	if err := env.chapters.ReorderChapters(env.ctx, []string{second.ID, env.project.Chapter.ID}); err != nil {
		t.Fatalf("章节排序失败: %v", err)
	}
	chapters, err := env.chapters.ListChapters(env.ctx, sbID)
	if err != nil {
		t.Fatalf("获取章节失败: %v", err)
	}
	if len(chapters) != 2 || chapters[0].ID != second.ID {
		t.Fatalf("排序后第一个章节应为 %s", second.ID)
	}
	if env.rec.count(models.EventChaptersReorder) != 1 {
		t.Fatalf("应广播一次排序事件，实际: %v", env.rec.types())
	}
}

func TestChapterRenameValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.chapters.RenameChapter(env.ctx, env.project.Chapter.ID, "   ")
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Type != apperrors.ErrorTypeValidation {
		t.Fatalf("空标题应返回校验错误，实际: %v", err)
	}

	_, err = env.chapters.RenameChapter(env.ctx, "missing", "新标题")
	if !errors.As(err, &appErr) || appErr.Type != apperrors.ErrorTypeNotFound {
		t.Fatalf("不存在的章节应返回未找到，实际: %v", err)
	}

	renamed, err := env.chapters.RenameChapter(env.ctx, env.project.Chapter.ID, "序章")
	if err != nil {
		t.Fatalf("重命名失败: %v", err)
	}
	if renamed.Title != "序章" {
		t.Fatalf("标题未更新: %s", renamed.Title)
	}
}

func TestListChaptersRequiresStoryboard(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.chapters.ListChapters(env.ctx, ""); err == nil {
		t.Fatal("缺少 storyboardId 应返回错误")
	}
}
