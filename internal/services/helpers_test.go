package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
)

// recordedEvent 一次广播
type recordedEvent struct {
	Event   models.Event
	Exclude string
}

// recorder 记录全部广播的假 Broadcaster
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Broadcast(event models.Event, exclude string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Event: event, Exclude: exclude})
	return 1
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Event.Type
	}
	return out
}

func (r *recorder) count(eventType string) int {
	n := 0
	for _, t := range r.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type testEnv struct {
	ctx      context.Context
	store    *storage.Store
	assets   *storage.AssetStorage
	rec      *recorder
	notifier *Notifier
	resolver *DefaultResolver
	tracker  *AssetTracker

	projects    *ProjectService
	storyboards *StoryboardService
	chapters    *ChapterService
	pages       *PageService
	elements    *ElementService
	batch       *BatchService
	search      *SearchService
	export      *ExportService

	project *ProjectDetail
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	assets, err := storage.NewAssetStorage(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("创建资源存储失败: %v", err)
	}

	env := &testEnv{
		ctx:    context.Background(),
		store:  store,
		assets: assets,
		rec:    &recorder{},
	}
	env.notifier = NewNotifier(env.rec, false)
	env.resolver = NewDefaultResolver(store, "")
	locks := NewLockManager()
	t.Cleanup(locks.Close)
	env.tracker = NewAssetTracker(store, assets, locks)

	env.projects = NewProjectService(store, env.tracker, env.notifier)
	env.storyboards = NewStoryboardService(store, env.tracker, env.notifier)
	env.chapters = NewChapterService(store, env.tracker, env.notifier, env.resolver)
	env.pages = NewPageService(store, env.tracker, env.notifier, env.resolver)
	env.elements = NewElementService(store, env.tracker, env.notifier)
	env.batch = NewBatchService(store, env.notifier, 6)
	env.search = NewSearchService(store, 0)
	env.export = NewExportService(store, assets)

	env.project, err = env.projects.CreateProject(env.ctx, "测试项目")
	if err != nil {
		t.Fatalf("创建项目失败: %v", err)
	}
	env.rec.reset()
	return env
}

func payload(t *testing.T, raw string) models.Content {
	t.Helper()
	c, err := models.ParseContent([]byte(raw))
	if err != nil {
		t.Fatalf("解析负载失败: %v", err)
	}
	return c
}

// saveAsset 在项目目录下写入文件并返回其 URL
func (env *testEnv) saveAsset(t *testing.T, projectID, name, body string) (string, string) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "src")
	if err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}
	f.WriteString(body)
	f.Seek(0, 0)
	defer f.Close()

	fileName, url, err := env.assets.Save(projectID, name, f)
	if err != nil {
		t.Fatalf("保存资源失败: %v", err)
	}
	fullPath, ok := env.assets.Locate(url)
	if !ok {
		t.Fatalf("无法定位刚保存的资源 %s (%s)", url, fileName)
	}
	return url, fullPath
}

func (env *testEnv) createElement(t *testing.T, pageID, raw string) *models.Element {
	t.Helper()
	p := payload(t, raw)
	p.SetValue("page_id", pageID)
	e, err := env.elements.CreateElement(env.ctx, p)
	if err != nil {
		t.Fatalf("创建元素失败: %v", err)
	}
	return e
}

func orderIndexes(pages []*models.Page) map[int]int {
	seen := make(map[int]int, len(pages))
	for _, p := range pages {
		seen[p.OrderIndex]++
	}
	return seen
}

// assertDense 检查 order_index 恰好为 0..n-1
func assertDense(t *testing.T, pages []*models.Page) {
	t.Helper()
	seen := orderIndexes(pages)
	for i := 0; i < len(pages); i++ {
		if seen[i] != 1 {
			t.Fatalf("order_index 不连续: %v", seen)
		}
	}
}
