package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/Corphon/StoryboardSync/internal/api"
	"github.com/Corphon/StoryboardSync/internal/config"
	"github.com/Corphon/StoryboardSync/internal/di"
	"github.com/Corphon/StoryboardSync/internal/services"
)

// 测试前的设置工作
func setupTest(t *testing.T) string {
	t.Helper()
	// 重置全局应用实例
	instance = nil
	di.GetContainer().Clear()

	tempDir := t.TempDir()
	config.SetCurrentConfig(&config.AppConfig{
		Port:    "8081",
		DataDir: tempDir,
		LogDir:  filepath.Join(tempDir, "logs"),
	})
	return tempDir
}

// 测试后的清理工作
func cleanupTest() {
	if instance != nil {
		instance.cleanup()
	}
	instance = nil
	di.GetContainer().Clear()
}

// mockServer 记录关闭调用的模拟服务器
type mockServer struct {
	ShutdownCalled bool
	block          chan struct{}
}

func (m *mockServer) ListenAndServe() error {
	<-m.block
	return nil
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.ShutdownCalled = true
	close(m.block)
	return nil
}

// TestGetApp 测试获取应用实例
func TestGetApp(t *testing.T) {
	instance = nil

	app1 := GetApp()
	if app1 == nil {
		t.Fatal("GetApp应该返回一个非nil的应用实例")
	}

	// 单例
	if app2 := GetApp(); app1 != app2 {
		t.Fatal("GetApp应该返回相同的实例")
	}

	if app1.stopChan == nil {
		t.Fatal("应用实例的stopChan应该被初始化")
	}
	instance = nil
}

// TestInitLogger 测试日志初始化
func TestInitLogger(t *testing.T) {
	tempDir := setupTest(t)
	defer cleanupTest()

	logDir := filepath.Join(tempDir, "custom_logs")
	if err := initLogger(logDir); err != nil {
		t.Fatalf("初始化日志系统失败: %v", err)
	}

	files, _ := os.ReadDir(logDir)
	if len(files) == 0 {
		t.Error("应该已创建日志文件")
	}
}

// TestInitServices 测试服务注册与默认项目
func TestInitServices(t *testing.T) {
	tempDir := setupTest(t)
	defer cleanupTest()

	if err := InitServices(); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}

	container := GetDIContainer()
	serviceNames := []string{
		"store", "assets", "broadcaster", "notifier", "tracker", "project", "storyboard",
		"chapter", "page", "element", "search", "export", "batch", "progress", "generation",
	}
	for _, name := range serviceNames {
		if container.Get(name) == nil {
			t.Errorf("服务 %s 应该已被注册", name)
		}
	}

	if _, err := os.Stat(filepath.Join(tempDir, "storyboard.db")); err != nil {
		t.Errorf("数据库文件应该已被创建: %v", err)
	}

	projects := container.Get("project").(*services.ProjectService)
	list, err := projects.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("获取项目失败: %v", err)
	}
	if len(list) != 1 || list[0].Name != defaultProjectName {
		t.Fatalf("应该创建一个默认项目，实际: %+v", list)
	}
}

// TestInitServicesIdempotentProject 重启时不重复创建默认项目
func TestInitServicesIdempotentProject(t *testing.T) {
	setupTest(t)
	defer cleanupTest()

	if err := InitServices(); err != nil {
		t.Fatalf("第一次初始化失败: %v", err)
	}
	instance.cleanup()
	instance = nil

	if err := InitServices(); err != nil {
		t.Fatalf("第二次初始化失败: %v", err)
	}

	projects := GetDIContainer().Get("project").(*services.ProjectService)
	list, err := projects.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("获取项目失败: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("默认项目不应重复创建，实际数量: %d", len(list))
	}
}

// TestRun 测试应用运行和关闭
func TestRun(t *testing.T) {
	setupTest(t)
	defer cleanupTest()

	mockSrv := &mockServer{block: make(chan struct{})}
	testApp := GetApp()
	testApp.config = config.GetCurrentConfig()
	testApp.server = mockSrv

	go func() {
		time.Sleep(100 * time.Millisecond)
		testApp.stopChan <- syscall.SIGTERM
	}()

	if err := Run(); err != nil {
		t.Fatalf("运行应用失败: %v", err)
	}
	if !mockSrv.ShutdownCalled {
		t.Error("应该调用了server.Shutdown")
	}
}

// TestRunWithoutInit 未初始化时返回错误
func TestRunWithoutInit(t *testing.T) {
	instance = nil
	defer func() { instance = nil }()

	if err := Run(); err == nil {
		t.Fatal("未初始化的应用运行应该返回错误")
	}
}

// TestIsDebugMode 测试调试模式检查
func TestIsDebugMode(t *testing.T) {
	instance = nil
	defer func() { instance = nil }()

	if IsDebugMode() {
		t.Error("无应用实例时IsDebugMode应该返回false")
	}

	testApp := &App{}
	instance = testApp
	if IsDebugMode() {
		t.Error("应用无配置时IsDebugMode应该返回false")
	}

	testApp.config = &config.AppConfig{DebugMode: true}
	if !IsDebugMode() {
		t.Error("调试模式开启时IsDebugMode应该返回true")
	}
}

// TestRouterFromContainer 路由能从容器取得全部服务
func TestRouterFromContainer(t *testing.T) {
	setupTest(t)
	defer cleanupTest()

	if err := InitServices(); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}
	router, err := api.SetupRouter()
	if err != nil {
		t.Fatalf("设置路由失败: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("获取项目应返回200，实际: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), defaultProjectName) {
		t.Fatalf("响应中应包含默认项目: %s", rec.Body.String())
	}
}
