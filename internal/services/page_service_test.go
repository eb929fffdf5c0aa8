package services

import (
	"math/rand"
	"testing"

	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
)

func (env *testEnv) chapterPages(t *testing.T) []*models.Page {
	t.Helper()
	chapterID := env.project.Chapter.ID
	pages, err := env.pages.ListPages(env.ctx, env.project.Storyboard.ID, &chapterID)
	if err != nil {
		t.Fatalf("列出页面失败: %v", err)
	}
	return pages
}

func TestPageOrderStaysDense(t *testing.T) {
	env := newTestEnv(t)
	chapterID := env.project.Chapter.ID
	for i := 0; i < 5; i++ {
		if _, err := env.pages.CreatePage(env.ctx, CreatePageRequest{
			StoryboardID: env.project.Storyboard.ID,
			ChapterID:    &chapterID,
			Title:        "页",
		}); err != nil {
			t.Fatalf("创建页面失败: %v", err)
		}
	}
	assertDense(t, env.chapterPages(t))

	rng := rand.New(rand.NewSource(42))
	for step := 0; step < 30; step++ {
		pages := env.chapterPages(t)
		switch step % 3 {
		case 0, 1:
			ids := make([]string, len(pages))
			for i, p := range pages {
				ids[i] = p.ID
			}
			rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
			if err := env.pages.ReorderPages(env.ctx, ids); err != nil {
				t.Fatalf("重排失败: %v", err)
			}
		case 2:
			if len(pages) > 2 {
				victim := pages[rng.Intn(len(pages))]
				if err := env.pages.DeletePage(env.ctx, victim.ID); err != nil {
					t.Fatalf("删除页面失败: %v", err)
				}
			} else if _, err := env.pages.DuplicatePage(env.ctx, pages[0].ID); err != nil {
				t.Fatalf("复制页面失败: %v", err)
			}
		}
		assertDense(t, env.chapterPages(t))
	}
}

func TestListPagesRequiresStoryboard(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.pages.ListPages(env.ctx, "", nil); !apperrors.IsValidationError(err) {
		t.Fatalf("缺少 storyboardId 应返回校验错误，实际 %v", err)
	}
	if _, err := env.chapters.ListChapters(env.ctx, ""); !apperrors.IsValidationError(err) {
		t.Fatalf("缺少 storyboardId 应返回校验错误，实际 %v", err)
	}
}

func TestCreatePageUsesDefaultStoryboard(t *testing.T) {
	env := newTestEnv(t)
	page, err := env.pages.CreatePage(env.ctx, CreatePageRequest{Title: "默认"})
	if err != nil {
		t.Fatalf("创建页面失败: %v", err)
	}
	if page.StoryboardID != env.project.Storyboard.ID {
		t.Fatalf("应落到默认故事板，实际 %s", page.StoryboardID)
	}
}

func TestDuplicatePageRemapsConnectors(t *testing.T) {
	env := newTestEnv(t)
	pageID := env.project.Page.ID
	a := env.createElement(t, pageID, `{"type":"rect","group_id":"g1","content":{"fill":"red"}}`)
	b := env.createElement(t, pageID, `{"type":"rect"}`)

	other, _ := env.pages.CreatePage(env.ctx, CreatePageRequest{StoryboardID: env.project.Storyboard.ID})
	outside := env.createElement(t, other.ID, `{"type":"rect"}`)

	line := payload(t, `{"type":"connector"}`)
	line.SetValue("page_id", pageID)
	line.SetValue("start_element_id", a.ID)
	line.SetValue("end_element_id", b.ID)
	connector, err := env.elements.CreateElement(env.ctx, line)
	if err != nil {
		t.Fatalf("创建连接线失败: %v", err)
	}

	dangling := payload(t, `{"type":"connector"}`)
	dangling.SetValue("page_id", pageID)
	dangling.SetValue("start_element_id", a.ID)
	dangling.SetValue("end_element_id", outside.ID)
	if _, err := env.elements.CreateElement(env.ctx, dangling); err != nil {
		t.Fatalf("创建连接线失败: %v", err)
	}

	result, err := env.pages.DuplicatePage(env.ctx, pageID)
	if err != nil {
		t.Fatalf("复制页面失败: %v", err)
	}
	if result.Page.ID == pageID || result.Page.IsSystemPage() {
		t.Fatalf("复制页应有新ID且不是系统页: %+v", result.Page)
	}
	if result.Page.OrderIndex != env.project.Page.OrderIndex+1 {
		t.Fatalf("复制页应紧跟原页面，实际 %d", result.Page.OrderIndex)
	}

	copies, _ := env.elements.ListElements(env.ctx, result.Page.ID)
	if len(copies) != 4 {
		t.Fatalf("应复制 4 个元素，实际 %d", len(copies))
	}
	newIDs := map[string]bool{}
	for _, e := range copies {
		newIDs[e.ID] = true
		if e.ID == a.ID || e.ID == b.ID || e.ID == connector.ID {
			t.Fatalf("复制的元素不应沿用旧ID")
		}
	}
	for _, e := range copies {
		for _, ref := range []*string{e.StartElementID, e.EndElementID} {
			if ref != nil && !newIDs[*ref] {
				t.Fatalf("引用 %s 指向复制集之外", *ref)
			}
		}
		if e.Type == "rect" && e.Content.GetString("fill") == "red" {
			if e.GroupID == nil || *e.GroupID != "g1" {
				t.Fatalf("group_id 应原样复制")
			}
		}
	}

	assertDense(t, env.chapterPages(t))
}

func TestSystemPageProtection(t *testing.T) {
	env := newTestEnv(t)
	var videos *models.Page
	err := env.store.WithTx(env.ctx, func(tx *storage.Tx) error {
		p, _, _, err := ensureVideosPage(env.ctx, tx, env.project.Storyboard.ID)
		videos = p
		return err
	})
	if err != nil {
		t.Fatalf("创建视频页失败: %v", err)
	}

	if err := env.pages.DeletePage(env.ctx, videos.ID); !apperrors.IsConflictError(err) {
		t.Fatalf("删除系统页应冲突，实际 %v", err)
	}
	if err := env.chapters.DeleteChapter(env.ctx, env.project.Chapter.ID); !apperrors.IsConflictError(err) {
		t.Fatalf("删除包含系统页的章节应冲突，实际 %v", err)
	}

	second, err := env.projects.CreateProject(env.ctx, "第二个项目")
	if err != nil {
		t.Fatalf("创建项目失败: %v", err)
	}
	if _, err := env.pages.MovePageToProject(env.ctx, videos.ID, second.ID); !apperrors.IsConflictError(err) {
		t.Fatalf("移动系统页到其他项目应冲突，实际 %v", err)
	}
	if _, err := env.pages.MovePageToChapter(env.ctx, videos.ID, &second.Chapter.ID); !apperrors.IsConflictError(err) {
		t.Fatalf("移动系统页到其他项目的章节应冲突，实际 %v", err)
	}
	board, err := env.storyboards.CreateStoryboard(env.ctx, CreateStoryboardRequest{ProjectID: env.project.ID, Name: "第二版"})
	if err != nil {
		t.Fatalf("创建故事板失败: %v", err)
	}
	other, err := env.chapters.CreateChapter(env.ctx, CreateChapterRequest{StoryboardID: board.ID, Title: "别处"})
	if err != nil {
		t.Fatalf("创建章节失败: %v", err)
	}
	if _, err := env.pages.MovePageToChapter(env.ctx, videos.ID, &other.ID); !apperrors.IsConflictError(err) {
		t.Fatalf("移动系统页到其他故事板应冲突，实际 %v", err)
	}
	stored, _ := env.pages.GetPage(env.ctx, videos.ID)
	if stored.StoryboardID != env.project.Storyboard.ID {
		t.Fatalf("系统页不应离开原故事板: %+v", stored)
	}
}

func TestDeleteChapterCascades(t *testing.T) {
	env := newTestEnv(t)
	chapter, err := env.chapters.CreateChapter(env.ctx, CreateChapterRequest{StoryboardID: env.project.Storyboard.ID, Title: "第二章"})
	if err != nil {
		t.Fatalf("创建章节失败: %v", err)
	}
	third, _ := env.chapters.CreateChapter(env.ctx, CreateChapterRequest{StoryboardID: env.project.Storyboard.ID, Title: "第三章"})
	page, _ := env.pages.CreatePage(env.ctx, CreatePageRequest{StoryboardID: env.project.Storyboard.ID, ChapterID: &chapter.ID})
	e := env.createElement(t, page.ID, `{"type":"rect"}`)

	if err := env.chapters.DeleteChapter(env.ctx, chapter.ID); err != nil {
		t.Fatalf("删除章节失败: %v", err)
	}
	if _, err := env.pages.GetPage(env.ctx, page.ID); !apperrors.IsNotFoundError(err) {
		t.Fatalf("章节内页面应被级联删除")
	}
	if _, err := env.elements.GetElement(env.ctx, e.ID); !apperrors.IsNotFoundError(err) {
		t.Fatalf("页面内元素应被级联删除")
	}

	chapters, _ := env.chapters.ListChapters(env.ctx, env.project.Storyboard.ID)
	if len(chapters) != 2 || chapters[1].ID != third.ID || chapters[1].OrderIndex != 1 {
		t.Fatalf("删除后章节顺序应连续: %+v", chapters)
	}
}

func TestMovePageToChapterClosesGap(t *testing.T) {
	env := newTestEnv(t)
	chapterID := env.project.Chapter.ID
	extra, _ := env.pages.CreatePage(env.ctx, CreatePageRequest{StoryboardID: env.project.Storyboard.ID, ChapterID: &chapterID})
	target, _ := env.chapters.CreateChapter(env.ctx, CreateChapterRequest{StoryboardID: env.project.Storyboard.ID, Title: "目标章"})

	moved, err := env.pages.MovePageToChapter(env.ctx, env.project.Page.ID, &target.ID)
	if err != nil {
		t.Fatalf("移动页面失败: %v", err)
	}
	if moved.ChapterID == nil || *moved.ChapterID != target.ID || moved.OrderIndex != 0 {
		t.Fatalf("页面应位于目标章节首位: %+v", moved)
	}
	remaining := env.chapterPages(t)
	if len(remaining) != 1 || remaining[0].ID != extra.ID || remaining[0].OrderIndex != 0 {
		t.Fatalf("原章节应重新紧凑: %+v", remaining)
	}
}

func TestMovePageToProject(t *testing.T) {
	env := newTestEnv(t)
	e := env.createElement(t, env.project.Page.ID, `{"type":"rect"}`)
	second, err := env.projects.CreateProject(env.ctx, "目标项目")
	if err != nil {
		t.Fatalf("创建项目失败: %v", err)
	}
	env.rec.reset()

	moved, err := env.pages.MovePageToProject(env.ctx, env.project.Page.ID, second.ID)
	if err != nil {
		t.Fatalf("跨项目移动失败: %v", err)
	}
	if moved.StoryboardID != second.Storyboard.ID || moved.ChapterID == nil || *moved.ChapterID != second.Chapter.ID {
		t.Fatalf("页面应进入目标项目最后一章: %+v", moved)
	}
	if moved.OrderIndex != 1 {
		t.Fatalf("页面应追加到末尾，实际 %d", moved.OrderIndex)
	}
	got, err := env.elements.GetElement(env.ctx, e.ID)
	if err != nil || got.PageID != moved.ID {
		t.Fatalf("元素应随页面移动: %v", err)
	}
	types := env.rec.types()
	if len(types) != 2 || types[0] != models.EventPageDelete || types[1] != models.EventPageAdd {
		t.Fatalf("应广播 page:delete 与 page:add，实际 %v", types)
	}
}

func TestMovePageToProjectCreatesImportedChapter(t *testing.T) {
	env := newTestEnv(t)
	second, _ := env.projects.CreateProject(env.ctx, "空项目")
	if err := env.chapters.DeleteChapter(env.ctx, second.Chapter.ID); err != nil {
		t.Fatalf("删除章节失败: %v", err)
	}
	env.rec.reset()

	moved, err := env.pages.MovePageToProject(env.ctx, env.project.Page.ID, second.ID)
	if err != nil {
		t.Fatalf("跨项目移动失败: %v", err)
	}
	chapters, _ := env.chapters.ListChapters(env.ctx, second.Storyboard.ID)
	if len(chapters) != 1 || chapters[0].Title != ImportedChapterTitle {
		t.Fatalf("应自动创建导入章节: %+v", chapters)
	}
	if *moved.ChapterID != chapters[0].ID {
		t.Fatalf("页面应位于导入章节")
	}
	if env.rec.count(models.EventChapterAdd) != 1 {
		t.Fatalf("应广播 chapter:add，实际 %v", env.rec.types())
	}
}

func TestUpdatePageViewport(t *testing.T) {
	env := newTestEnv(t)
	scale := 1.5
	x := 12.0
	page, err := env.pages.UpdatePage(env.ctx, env.project.Page.ID, models.PageUpdate{ViewportX: &x, ViewportScale: &scale})
	if err != nil {
		t.Fatalf("更新页面失败: %v", err)
	}
	if page.ViewportScale == nil || *page.ViewportScale != 1.5 || page.ViewportY != nil {
		t.Fatalf("视口更新错误: %+v", page)
	}
	empty := "  "
	if _, err := env.pages.UpdatePage(env.ctx, page.ID, models.PageUpdate{Title: &empty}); !apperrors.IsValidationError(err) {
		t.Fatalf("空标题应返回校验错误，实际 %v", err)
	}
}
