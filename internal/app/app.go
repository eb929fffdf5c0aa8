// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/StoryboardSync/internal/api"
	"github.com/Corphon/StoryboardSync/internal/config"
	"github.com/Corphon/StoryboardSync/internal/di"
	"github.com/Corphon/StoryboardSync/internal/services"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/Corphon/StoryboardSync/internal/utils"
	"github.com/Corphon/StoryboardSync/internal/videogen"

	// 注册视频生成提供者
	_ "github.com/Corphon/StoryboardSync/internal/videogen/providers/kling"
)

const (
	// 默认项目名，数据库为空时创建
	defaultProjectName = "默认项目"

	shutdownTimeout = 30 * time.Second
	cleanupInterval = 10 * time.Minute
	metricsInterval = 5 * time.Minute
)

// Server 可优雅关闭的HTTP服务器
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用程序实例
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   Server
	stopChan chan os.Signal

	store      *storage.Store
	hub        *api.WebSocketManager
	locks      *services.LockManager
	generation *services.GenerationService
	cancel     context.CancelFunc
}

var (
	instance *App
	mu       sync.Mutex
)

// GetApp 获取应用程序单例
func GetApp() *App {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// Initialize 加载配置、初始化日志与服务并创建路由
func Initialize(dataDir string) error {
	if err := config.InitConfig(dataDir); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	app := GetApp()
	app.config = config.GetCurrentConfig()

	if err := initLogger(app.config.LogDir); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	app.router = router
	app.server = &http.Server{
		Addr:    ":" + app.config.Port,
		Handler: router,
	}
	return nil
}

// initLogger 按日期创建日志文件
func initLogger(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}
	logFile := filepath.Join(logDir, fmt.Sprintf("app_%s.log", time.Now().Format("2006-01-02")))
	return utils.InitLogger(logFile)
}

// InitServices 按依赖顺序创建服务并注册到容器
func InitServices() error {
	cfg := config.GetCurrentConfig()
	app := GetApp()
	if app.config == nil {
		app.config = cfg
	}
	container := di.GetContainer()

	// 1. 存储层
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开数据库失败: %w", err)
	}
	assets, err := storage.NewAssetStorage(cfg.UploadsDir)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	app.store = store
	container.Register("store", store)
	container.Register("assets", assets)

	// 2. 事件通道
	hub := api.NewWebSocketManager(cfg.WSPingTimeout)
	go hub.Run()
	app.hub = hub
	container.Register("broadcaster", hub)

	notifier := services.NewNotifier(hub, cfg.EchoToOrigin)
	resolver := services.NewDefaultResolver(store, cfg.DefaultStoryboardID)
	locks := services.NewLockManager()
	tracker := services.NewAssetTracker(store, assets, locks)
	app.locks = locks
	container.Register("notifier", notifier)
	container.Register("locks", locks)
	container.Register("tracker", tracker)

	// 3. 实体服务
	projects := services.NewProjectService(store, tracker, notifier)
	container.Register("project", projects)
	container.Register("storyboard", services.NewStoryboardService(store, tracker, notifier))
	container.Register("chapter", services.NewChapterService(store, tracker, notifier, resolver))
	container.Register("page", services.NewPageService(store, tracker, notifier, resolver))
	container.Register("element", services.NewElementService(store, tracker, notifier))
	container.Register("search", services.NewSearchService(store, services.DefaultSearchLimit))
	container.Register("export", services.NewExportService(store, assets))
	container.Register("batch", services.NewBatchService(store, notifier, cfg.MaxMultiShotItems))

	// 4. 生成流水线，随应用关闭取消
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	progress := services.NewProgressService()
	container.Register("progress", progress)

	generation := services.NewGenerationService(ctx, store, assets, notifier, resolver, progress,
		videogen.NewFFProbe(cfg.FFprobePath), services.ConfigProviderSource(),
		services.GenerationOptions{
			Workers:      cfg.GenerationWorkers,
			PollInterval: cfg.GenerationPollInterval,
			MaxPolls:     cfg.GenerationMaxPolls,
		})
	app.generation = generation
	container.Register("generation", generation)

	// 5. 启动时修复
	if n, err := generation.RecoverInterrupted(ctx); err != nil {
		log.Printf("⚠️ 恢复中断任务失败: %v", err)
	} else if n > 0 {
		log.Printf("🔄 %d 个中断的生成任务已标记为失败", n)
	}
	if err := projects.EnsureProject(ctx, defaultProjectName); err != nil {
		return fmt.Errorf("创建默认项目失败: %w", err)
	}

	// 6. 后台维护
	utils.NewSyncMetrics().StartMetricsCollection(ctx, metricsInterval)
	go runProgressCleanup(ctx, progress)

	return nil
}

// runProgressCleanup 定期移除已结束任务的进度跟踪器
func runProgressCleanup(ctx context.Context, progress *services.ProgressService) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := progress.CleanupCompletedTasks(cleanupInterval); n > 0 {
				utils.GetLogger().Info("清理进度跟踪器", map[string]interface{}{"count": n})
			}
		}
	}
}

// Run 启动HTTP服务器，收到停止信号后优雅关闭
func Run() error {
	app := GetApp()
	if app.server == nil {
		return fmt.Errorf("应用未初始化")
	}

	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(app.stopChan)

	errChan := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		app.cleanup()
		return fmt.Errorf("启动服务器失败: %w", err)
	case <-app.stopChan:
	}

	log.Println("🛑 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := app.server.Shutdown(ctx)
	app.cleanup()
	if err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}

	log.Println("✅ 服务器优雅关闭完成")
	return nil
}

// cleanup 停止后台任务并释放资源
func (a *App) cleanup() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.hub != nil {
		a.hub.Shutdown()
	}
	if a.generation != nil {
		a.generation.Wait()
	}
	if a.locks != nil {
		a.locks.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("⚠️ 关闭数据库失败: %v", err)
		}
		a.store = nil
	}
	utils.CloseLogger()
}

// GetConfig 返回应用配置
func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

// Router 返回HTTP路由
func (a *App) Router() http.Handler {
	return a.router
}

// GetDIContainer 返回依赖注入容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 是否处于调试模式
func IsDebugMode() bool {
	mu.Lock()
	defer mu.Unlock()

	return instance != nil && instance.config != nil && instance.config.DebugMode
}
