package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Corphon/StoryboardSync/internal/models"
)

// openTestStore 每个测试使用独立的数据库文件
func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// seedPage 创建项目/故事板/章节/页面
func seedPage(t *testing.T, store *Store) (*models.Project, *models.Storyboard, *models.Chapter, *models.Page) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	project := &models.Project{ID: "p1", Name: "项目", CreatedAt: now, UpdatedAt: now}
	board := &models.Storyboard{ID: "s1", ProjectID: "p1", Name: "默认", CreatedAt: now}
	chapter := &models.Chapter{ID: "c1", StoryboardID: "s1", Title: "第一章", CreatedAt: now}
	chapterID := chapter.ID
	page := &models.Page{ID: "pg1", StoryboardID: "s1", ChapterID: &chapterID, Title: "第一页", CreatedAt: now}

	if err := store.InsertProject(ctx, project); err != nil {
		t.Fatalf("插入项目失败: %v", err)
	}
	if err := store.InsertStoryboard(ctx, board); err != nil {
		t.Fatalf("插入故事板失败: %v", err)
	}
	if err := store.InsertChapter(ctx, chapter); err != nil {
		t.Fatalf("插入章节失败: %v", err)
	}
	if err := store.InsertPage(ctx, page); err != nil {
		t.Fatalf("插入页面失败: %v", err)
	}
	return project, board, chapter, page
}

func newElement(id, pageID string, z int, content string) *models.Element {
	c, _ := models.ParseContent([]byte(content))
	now := time.Now()
	return &models.Element{ID: id, PageID: pageID, Type: "image", ZIndex: z, Content: c, CreatedAt: now, UpdatedAt: now}
}

func TestEnsureColumnIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	added, err := store.EnsureColumn(ctx, "pages", "note", "TEXT")
	if err != nil {
		t.Fatalf("添加列失败: %v", err)
	}
	if !added {
		t.Fatal("第一次调用应该添加列")
	}

	for i := 0; i < 3; i++ {
		added, err = store.EnsureColumn(ctx, "pages", "note", "TEXT")
		if err != nil {
			t.Fatalf("重复添加列不应报错: %v", err)
		}
		if added {
			t.Fatal("列已存在时不应再次添加")
		}
	}

	// 迁移追加的列在启动时已经存在
	added, err = store.EnsureColumn(ctx, "elements", "group_id", "TEXT")
	if err != nil || added {
		t.Fatalf("group_id 应该已存在: added=%v err=%v", added, err)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	seedPage(t, store)
	store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatalf("重新打开数据库失败: %v", err)
	}
	defer store.Close()

	n, err := store.CountProjects(context.Background())
	if err != nil {
		t.Fatalf("统计项目失败: %v", err)
	}
	if n != 1 {
		t.Fatalf("重新打开后项目数量应为1，实际 %d", n)
	}
}

func TestElementsOrderedByZIndexThenInsertion(t *testing.T) {
	store := openTestStore(t)
	_, _, _, page := seedPage(t, store)
	ctx := context.Background()

	for _, e := range []*models.Element{
		newElement("e-b", page.ID, 2, `{}`),
		newElement("e-a", page.ID, 1, `{}`),
		newElement("e-c", page.ID, 1, `{}`),
	} {
		if err := store.InsertElement(ctx, e); err != nil {
			t.Fatalf("插入元素失败: %v", err)
		}
	}

	elements, err := store.ListElements(ctx, page.ID)
	if err != nil {
		t.Fatalf("列出元素失败: %v", err)
	}
	want := []string{"e-a", "e-c", "e-b"}
	for i, e := range elements {
		if e.ID != want[i] {
			t.Fatalf("第 %d 个元素应为 %s，实际 %s", i, want[i], e.ID)
		}
	}

	max, err := store.MaxZIndex(ctx, page.ID)
	if err != nil || max != 2 {
		t.Fatalf("最大 z_index 应为 2: %d %v", max, err)
	}
	empty, err := store.MaxZIndex(ctx, "missing")
	if err != nil || empty != -1 {
		t.Fatalf("空页面最大 z_index 应为 -1: %d %v", empty, err)
	}
}

func TestCascadeDeleteProject(t *testing.T) {
	store := openTestStore(t)
	project, board, chapter, page := seedPage(t, store)
	ctx := context.Background()

	if err := store.InsertElement(ctx, newElement("e1", page.ID, 0, `{"url":"/uploads/p1/a.png"}`)); err != nil {
		t.Fatalf("插入元素失败: %v", err)
	}
	if err := store.DeleteProject(ctx, project.ID); err != nil {
		t.Fatalf("删除项目失败: %v", err)
	}

	if _, err := store.GetStoryboard(ctx, board.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("故事板应被级联删除: %v", err)
	}
	if _, err := store.GetChapter(ctx, chapter.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("章节应被级联删除: %v", err)
	}
	if _, err := store.GetPage(ctx, page.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("页面应被级联删除: %v", err)
	}
	if _, err := store.GetElement(ctx, "e1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("元素应被级联删除: %v", err)
	}
}

func TestWithTxRollback(t *testing.T) {
	store := openTestStore(t)
	_, _, _, page := seedPage(t, store)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertElement(ctx, newElement("e1", page.ID, 0, `{}`)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("应返回回调错误: %v", err)
	}
	if _, err := store.GetElement(ctx, "e1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("回滚后元素不应存在: %v", err)
	}
}

func TestCountElementsReferencing(t *testing.T) {
	store := openTestStore(t)
	_, _, _, page := seedPage(t, store)
	ctx := context.Background()

	store.InsertElement(ctx, newElement("e1", page.ID, 0, `{"url":"/uploads/p1/shared.png"}`))
	store.InsertElement(ctx, newElement("e2", page.ID, 1, `{"url":"/uploads/p1/shared.png"}`))
	store.InsertElement(ctx, newElement("e3", page.ID, 2, `{"text":"无关"}`))

	n, err := store.CountElementsReferencing(ctx, "shared.png", []string{"e1"})
	if err != nil {
		t.Fatalf("统计引用失败: %v", err)
	}
	if n != 1 {
		t.Fatalf("排除 e1 后应剩 1 个引用，实际 %d", n)
	}

	n, _ = store.CountElementsReferencing(ctx, "shared.png", []string{"e1", "e2"})
	if n != 0 {
		t.Fatalf("排除全部引用者后应为 0，实际 %d", n)
	}
}

func TestPageGapAndShift(t *testing.T) {
	store := openTestStore(t)
	_, board, chapter, _ := seedPage(t, store)
	ctx := context.Background()

	for i, id := range []string{"pg2", "pg3"} {
		chapterID := chapter.ID
		p := &models.Page{ID: id, StoryboardID: board.ID, ChapterID: &chapterID, Title: id, OrderIndex: i + 1, CreatedAt: time.Now()}
		if err := store.InsertPage(ctx, p); err != nil {
			t.Fatalf("插入页面失败: %v", err)
		}
	}

	if err := store.DeletePage(ctx, "pg1"); err != nil {
		t.Fatalf("删除页面失败: %v", err)
	}
	if err := store.ClosePageGap(ctx, board.ID, &chapter.ID, 0); err != nil {
		t.Fatalf("收拢顺序失败: %v", err)
	}

	pages, err := store.ListContainerPages(ctx, board.ID, &chapter.ID)
	if err != nil {
		t.Fatalf("列出页面失败: %v", err)
	}
	for i, p := range pages {
		if p.OrderIndex != i {
			t.Fatalf("页面 %s 的顺序应为 %d，实际 %d", p.ID, i, p.OrderIndex)
		}
	}
}

func TestBatchTaskRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	task := &models.BatchTask{
		ID:              "t1",
		MiddleFrameURLs: []string{"/uploads/p1/a.png", "/uploads/p1/b.png"},
		MultiPrompts:    []string{"推镜", "拉镜"},
		Prompt:          "海边",
		Duration:        5,
		Audio:           true,
		AspectRatio:     "16:9",
		Mode:            "std",
		Status:          models.TaskStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.InsertBatchTask(ctx, task); err != nil {
		t.Fatalf("插入任务失败: %v", err)
	}

	external := "ext-1"
	if err := store.UpdateBatchTaskStatus(ctx, "t1", TaskStatusUpdate{
		Status: models.TaskStatusGenerating, ExternalTaskID: &external, At: now,
	}); err != nil {
		t.Fatalf("更新状态失败: %v", err)
	}

	got, err := store.GetBatchTask(ctx, "t1")
	if err != nil {
		t.Fatalf("读取任务失败: %v", err)
	}
	if got.Status != models.TaskStatusGenerating || got.ExternalTaskID == nil || *got.ExternalTaskID != "ext-1" {
		t.Fatalf("状态未写入: %+v", got)
	}
	if len(got.MiddleFrameURLs) != 2 || got.MultiPrompts[1] != "拉镜" || !got.Audio {
		t.Fatalf("列表字段未保留: %+v", got)
	}

	if err := store.DeleteBatchTask(ctx, "t1"); err != nil {
		t.Fatalf("删除任务失败: %v", err)
	}
	if err := store.DeleteBatchTask(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("重复删除应返回 ErrNotFound: %v", err)
	}
}

func TestSearchElementsEscapesPattern(t *testing.T) {
	store := openTestStore(t)
	_, _, _, page := seedPage(t, store)
	ctx := context.Background()

	store.InsertElement(ctx, newElement("e1", page.ID, 0, `{"text":"100% 完成"}`))
	store.InsertElement(ctx, newElement("e2", page.ID, 1, `{"text":"1000 完成"}`))

	results, err := store.SearchElements(ctx, "100%", "", 0)
	if err != nil {
		t.Fatalf("搜索失败: %v", err)
	}
	if len(results) != 1 || results[0].Element.ID != "e1" {
		t.Fatalf("百分号应按字面匹配: %+v", results)
	}
	if results[0].PageTitle != page.Title {
		t.Fatalf("应带出页面标题: %s", results[0].PageTitle)
	}
}

func TestSaveElementKeepsHTMLCharacters(t *testing.T) {
	store := openTestStore(t)
	_, _, _, page := seedPage(t, store)
	ctx := context.Background()

	e := newElement("e1", page.ID, 0, `{"text":"旧"}`)
	if err := store.InsertElement(ctx, e); err != nil {
		t.Fatalf("插入元素失败: %v", err)
	}
	if err := e.Content.SetValue("text", "a < b && c > d"); err != nil {
		t.Fatalf("写入内容失败: %v", err)
	}
	if err := store.SaveElement(ctx, e); err != nil {
		t.Fatalf("保存元素失败: %v", err)
	}

	results, err := store.SearchElements(ctx, "b && c", "", 0)
	if err != nil {
		t.Fatalf("搜索失败: %v", err)
	}
	if len(results) != 1 || results[0].Element.Content.GetString("text") != "a < b && c > d" {
		t.Fatalf("& < > 应按原字符存储: %+v", results)
	}
}
