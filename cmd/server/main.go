package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-server/internal/config"
	"github.com/pu-ac-cn/cas-server/internal/database"
	"github.com/pu-ac-cn/cas-server/internal/handler"
	"github.com/pu-ac-cn/cas-server/internal/middleware"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/redis"
	"github.com/pu-ac-cn/cas-server/internal/registry"
	"github.com/pu-ac-cn/cas-server/internal/repository"
	"github.com/pu-ac-cn/cas-server/internal/service"
	"github.com/pu-ac-cn/cas-server/pkg/response"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化数据库连接（注册服务存储）
	if err := database.Init(&cfg.Database); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer database.Close()
	log.Println("数据库连接成功")

	// 自动迁移数据库表
	if err := database.AutoMigrate(&model.RegisteredService{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	log.Println("数据库迁移完成")

	// 票据注册表：配置了 Redis 则共享存储，否则退化为进程内存储
	var ticketRegistry registry.TicketRegistry
	if cfg.Redis.Addr != "" {
		if err := redis.Init(&cfg.Redis); err != nil {
			log.Fatalf("初始化 Redis 失败: %v", err)
		}
		defer redis.Close()
		log.Println("Redis 连接成功")
		ticketRegistry = registry.NewRedisRegistry(redis.GetClient())
	} else {
		log.Println("未配置 Redis，使用进程内票据注册表")
		ticketRegistry = registry.NewMemoryRegistry()
	}

	// 管理令牌密钥：配置了路径则加载，否则生成临时密钥
	privateKey, err := loadOrGenerateKey(cfg.JWT.PrivateKeyPath)
	if err != nil {
		log.Fatalf("加载 RSA 密钥失败: %v", err)
	}

	logger := middleware.GetLogger()

	// 初始化 Repository 与 Service
	serviceRepo := repository.NewRegisteredServiceRepository(database.GetDB())
	servicesManager := service.NewServicesManager(serviceRepo)

	tokenService := service.NewTokenService(&service.TokenServiceConfig{
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		KeyID:      "key-1",
		Issuer:     cfg.JWT.Issuer,
		Expiry:     cfg.JWT.AccessExpiry,
	})

	// 单点登出执行计划
	logoutPlan := service.NewLogoutExecutionPlan()
	logoutPlan.RegisterURLBuilder(service.NewDefaultLogoutURLBuilder())
	logoutPlan.RegisterMessageHandler(service.NewBackChannelLogoutHandler(
		&http.Client{Timeout: cfg.Logout.Timeout}, logger))
	logoutPlan.RegisterMessageHandler(service.NewFrontChannelLogoutHandler())

	logoutManager := service.NewLogoutManager(servicesManager, ticketRegistry, logoutPlan, &service.LogoutManagerConfig{
		Disabled:          cfg.Logout.Disabled,
		Timeout:           cfg.Logout.Timeout,
		Concurrency:       cfg.Logout.Concurrency,
		FollowDescendants: cfg.Logout.FollowDescendants,
	}, logger)

	ticketService := service.NewTicketService(ticketRegistry, servicesManager, logoutManager, &service.TicketServiceConfig{
		TGTExpiry:         cfg.Ticket.TGTExpiry,
		TGTIdleTimeout:    cfg.Ticket.TGTIdleTimeout,
		STExpiry:          cfg.Ticket.STExpiry,
		PGTExpiry:         cfg.Ticket.PGTExpiry,
		TrackDescendants:  cfg.Ticket.TrackDescendants,
		MaxProxyChainHops: cfg.Ticket.MaxProxyChainHops,
	})

	validationService := service.NewValidationService(ticketRegistry, servicesManager, ticketService,
		service.NewProxyCallbackAuthenticator(&http.Client{Timeout: cfg.Logout.Timeout}), logger)

	authenticator := service.NewStaticAuthenticator(cfg.Users)

	// 初始化 Handler
	authHandler := handler.NewAuthHandler(cfg.Admin, tokenService, logger)
	ticketHandler := handler.NewTicketHandler(authenticator, ticketService, logger)
	validateHandler := handler.NewValidateHandler(validationService, ticketService, logger)
	serviceHandler := handler.NewServiceHandler(serviceRepo)
	reportHandler := handler.NewReportHandler(ticketService, logger)

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()

	// 全局中间件
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		dbStatus := "ok"
		if err := database.Ping(); err != nil {
			dbStatus = "error"
		}

		redisStatus := "disabled"
		if redisClient := redis.GetClient(); redisClient != nil {
			redisStatus = "ok"
			if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
				redisStatus = "error"
			}
		}

		response.Success(c, gin.H{
			"status":   "ok",
			"time":     time.Now().Format(time.RFC3339),
			"database": dbStatus,
			"redis":    redisStatus,
		})
	})

	// CAS 协议路由
	cas := router.Group("/cas")
	{
		cas.GET("/serviceValidate", validateHandler.ServiceValidate)
		cas.GET("/proxyValidate", validateHandler.ProxyValidate)
		cas.GET("/proxy", validateHandler.Proxy)
		cas.GET("/logout", ticketHandler.Logout)
		cas.POST("/logout", ticketHandler.Logout)

		// CAS REST 协议
		v1 := cas.Group("/v1")
		v1.POST("/tickets", ticketHandler.CreateTGT)
		v1.POST("/tickets/:tgt", ticketHandler.GrantST)
		v1.DELETE("/tickets/:tgt", ticketHandler.DestroyTGT)
	}

	// 管理 API 路由组
	api := router.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, "pong")
		})

		api.POST("/auth/login", authHandler.Login)

		// 需要认证的路由
		authRequired := api.Group("")
		authRequired.Use(middleware.JWTAuth(tokenService))
		{
			authRequired.GET("/services", serviceHandler.ListServices)
			authRequired.POST("/services", serviceHandler.CreateService)
			authRequired.GET("/services/:id", serviceHandler.GetService)
			authRequired.PUT("/services/:id", serviceHandler.UpdateService)
			authRequired.DELETE("/services/:id", serviceHandler.DeleteService)

			authRequired.GET("/sessions", reportHandler.ListSessions)
			authRequired.DELETE("/sessions/:id", reportHandler.DestroySession)
		}
	}

	// 创建 HTTP 服务器
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		log.Printf("服务启动，监听地址: %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 优雅关闭，等待 5 秒
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务关闭失败: %v", err)
	}

	log.Println("服务已关闭")
}

// loadOrGenerateKey 从 PEM 文件加载 RSA 私钥，未配置路径时生成临时密钥
// 临时密钥重启后失效，已签发的管理令牌需要重新登录
func loadOrGenerateKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		return rsa.GenerateKey(rand.Reader, 2048)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errNotRSAKey
	}
	return key, nil
}

var errNotRSAKey = errors.New("私钥不是 RSA 类型")
