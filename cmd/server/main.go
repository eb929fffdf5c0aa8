// cmd/server/main.go
package main

import (
	"log"
	"os"

	"github.com/Corphon/StoryboardSync/internal/app"
	"github.com/Corphon/StoryboardSync/internal/config"
	"github.com/Corphon/StoryboardSync/internal/di"
)

func main() {
	log.Println("🚀 启动 StoryboardSync 服务器...")

	// 1. 首先加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s", baseConfig.Port)

	// 2. 创建必要的目录
	createDirectories(baseConfig)
	log.Println("✅ 目录结构创建完成")

	// 3. 初始化配置、日志、服务与路由
	if err := app.Initialize(baseConfig.DataDir); err != nil {
		log.Fatalf("❌ 初始化应用失败: %v", err)
	}
	log.Println("✅ 所有服务初始化完成")

	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	// 4. 启动服务器
	log.Printf("🌐 服务器启动在端口 %s", baseConfig.Port)
	log.Printf("🔗 事件通道: ws://localhost:%s/ws", baseConfig.Port)

	if err := app.Run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// 健康检查函数
func performHealthCheck() error {
	// 检查关键服务是否已注册
	if err := di.GetContainer().MustHave("store", "broadcaster", "element", "generation"); err != nil {
		return err
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.AppConfig) {
	dirs := []string{
		cfg.DataDir,
		cfg.UploadsDir,
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}
