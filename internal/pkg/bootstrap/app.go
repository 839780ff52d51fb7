// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"stockpile/internal/pkg/logger"
	"stockpile/internal/pkg/nacos"
	"stockpile/internal/pkg/tracing"
	"stockpile/internal/pkg/utils"
)

type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client
}

// AppInfo 包含了启动一个服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int                 // 为 0 时使用配置文件中的端口
	RegisterHandlers func(appCtx AppCtx) // 一个函数，允许每个服务注册自己独特的 HTTP 路由
}

// StartService 封装了所有服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	logger.Init(info.ServiceName)

	// 1. 加载配置：先读本地 yaml，再尝试用 Nacos 配置中心覆盖
	if err := LoadConfig(); err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}

	nacosServerAddrs := getEnv("NACOS_SERVER_ADDRS", "localhost:8848")
	nacosNamespace := getEnv("NACOS_NAMESPACE", "")
	nacosGroup := getEnv("NACOS_GROUP", "DEFAULT_GROUP")

	namingClient, err := nacos.NewClient(nacosServerAddrs, nacosNamespace, nacosGroup)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize nacos client")
	}

	// NACOS_CONFIG_DATA_ID 指定后，配置改由配置中心下发并支持热更新
	if dataId := getEnv("NACOS_CONFIG_DATA_ID", ""); dataId != "" {
		if content, err := namingClient.GetConfig(dataId); err != nil {
			logger.Logger.Warn().Err(err).Msg("failed to fetch config from nacos, keeping local config")
		} else if err := ApplyConfig([]byte(content)); err != nil {
			logger.Logger.Fatal().Err(err).Msg("invalid config from nacos")
		}
		err = namingClient.ListenConfig(dataId, func(content string) {
			if err := ApplyConfig([]byte(content)); err != nil {
				logger.Logger.Error().Err(err).Msg("rejected invalid config update from nacos")
			}
		})
		if err != nil {
			logger.Logger.Warn().Err(err).Msg("failed to listen for config changes")
		}
	}

	port := info.Port
	if port == 0 {
		port = GetCurrentConfig().App.Port
	}

	// 2. 初始化 Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, GetCurrentConfig().Infra.Jaeger.Endpoint)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 3. 获取本机 IP 用于注册
	ip, err := utils.GetOutboundIP()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to get outbound IP address")
	}

	// 4. 执行服务注册
	if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, port); err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to register service with nacos")
	}

	// 5. 创建并启动 HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(port), Handler: mux}
	go func() {
		logger.Logger.Info().Msgf("%s listening on :%d", info.ServiceName, port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal().Err(err).Msgf("could not listen on %s", server.Addr)
		}
	}()

	// 6. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// 阻塞主 goroutine，直到接收到退出信号
	<-quit
	logger.Logger.Info().Msgf("shutting down service %s...", info.ServiceName)

	// 创建一个有超时的 context，用于关停流程
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 7. 按顺序执行清理操作 (后进先出)
	// a. 从 Nacos 注销服务
	if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, port); err != nil {
		logger.Logger.Error().Err(err).Msg("error deregistering from Nacos")
	}
	namingClient.Close()

	// b. 关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
	if err := tp.Shutdown(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("error shutting down tracer provider")
	}

	// c. 关闭 HTTP 服务器
	if err := server.Shutdown(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("error shutting down http server")
	}

	logger.Logger.Info().Msgf("service %s gracefully shut down", info.ServiceName)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
