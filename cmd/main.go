package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	httpAdapter "github.com/EthanQC/IM-realtime/internal/adapters/in/http"
	"github.com/EthanQC/IM-realtime/internal/adapters/in/ws"
	"github.com/EthanQC/IM-realtime/internal/adapters/out/auth"
	"github.com/EthanQC/IM-realtime/internal/adapters/out/chat"
	"github.com/EthanQC/IM-realtime/internal/adapters/out/db"
	"github.com/EthanQC/IM-realtime/internal/adapters/out/mq"
	redisRepo "github.com/EthanQC/IM-realtime/internal/adapters/out/redis"
	"github.com/EthanQC/IM-realtime/internal/application"
	"github.com/EthanQC/IM-realtime/internal/config"
	"github.com/EthanQC/IM-realtime/pkg/zlog"
)

func main() {
	// 加载配置
	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	os.Setenv("APP_ENV", env)
	logCfgPath := filepath.Join(".", "configs", fmt.Sprintf("config.%s.yaml", env))
	if _, err := os.Stat(logCfgPath); os.IsNotExist(err) {
		logCfgPath = filepath.Join("..", "configs", fmt.Sprintf("config.%s.yaml", env))
	}

	logCfg, err := zlog.LoadConfig(logCfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载日志配置失败: %v\n", err)
		os.Exit(1)
	}
	logCfg.Service = "im-realtime"
	zlog.RegisterMetrics(prometheus.DefaultRegisterer)
	zlog.MustInitGlobal(*logCfg)
	defer zap.L().Sync()

	logger := zap.L()
	logger.Info("im-realtime starting", zap.String("env", env))

	// 实时核心参数
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load realtime config", zap.Error(err))
	}

	// 初始化数据库
	database, err := initDB()
	if err != nil {
		logger.Fatal("Failed to init database", zap.Error(err))
	}

	// 初始化Redis
	redisClient, err := initRedis()
	if err != nil {
		logger.Fatal("Failed to init redis", zap.Error(err))
	}

	// 出站适配器
	queuedRepo := db.NewQueuedMessageRepositoryMySQL(database)
	deviceRepo := db.NewDeviceSessionRepositoryMySQL(database)
	presence := redisRepo.NewPresenceMirrorRedis(redisClient)
	blacklist := redisRepo.NewTokenBlacklistRedis(redisClient)
	verifier := auth.NewJWTVerifier(viper.GetString("jwt.secret"), blacklist)
	chatService := chat.NewChatServiceHTTP(
		viper.GetString("chat_service.base_url"), cfg.CollaboratorTimeout)

	// 连接注册中心与应用层
	registry := ws.NewRegistry(cfg)
	healthUC := application.NewHealthMonitor(registry, cfg)
	deliveryUC := application.NewDeliveryQueue(queuedRepo, registry, cfg)
	deviceUC := application.NewDeviceSync(deviceRepo, chatService, registry, cfg)
	reconnectUC := application.NewReconnectTracker(registry, healthUC, deliveryUC, deviceUC, cfg)
	connUC := application.NewConnectService(
		registry, verifier, presence, healthUC, reconnectUC, deliveryUC, deviceUC, cfg)
	messageUC := application.NewMessageService(registry, chatService, deliveryUC, cfg)

	// WebSocket 接入层
	wsServer := ws.NewServer(registry, ws.UseCases{
		Connection: connUC,
		Message:    messageUC,
		Delivery:   deliveryUC,
		Device:     deviceUC,
	}, cfg)

	// 后台调度
	ctx := context.Background()
	if err := deliveryUC.Start(ctx); err != nil {
		logger.Fatal("Failed to start delivery queue", zap.Error(err))
	}
	if err := healthUC.Start(ctx); err != nil {
		logger.Fatal("Failed to start health monitor", zap.Error(err))
	}
	if err := reconnectUC.Start(ctx); err != nil {
		logger.Fatal("Failed to start reconnect tracker", zap.Error(err))
	}
	if err := deviceUC.Start(ctx); err != nil {
		logger.Fatal("Failed to start device sync", zap.Error(err))
	}

	// Kafka 消费 CRUD 层的消息事件
	consumer := mq.NewKafkaMessageConsumer(
		viper.GetStringSlice("kafka.brokers"),
		viper.GetString("kafka.group_id"),
		deliveryUC,
	)
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("Failed to start kafka consumer", zap.Error(err))
	}

	// HTTP 服务器
	router := httpAdapter.NewRouter(wsServer, connUC, reconnectUC)
	httpPort := viper.GetInt("server.http_port")
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", httpPort),
		Handler: router.Setup(),
	}
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", httpPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	if err := consumer.Stop(); err != nil {
		logger.Warn("Kafka consumer shutdown error", zap.Error(err))
	}
	deviceUC.Stop()
	reconnectUC.Stop()
	healthUC.Stop()
	deliveryUC.Stop()

	logger.Info("Server exited properly")
}

func loadConfig() error {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../configs")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func initDB() (*gorm.DB, error) {
	dsn := viper.GetString("mysql.dsn")

	database, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(viper.GetInt("mysql.max_idle_conns"))
	sqlDB.SetMaxOpenConns(viper.GetInt("mysql.max_open_conns"))
	sqlDB.SetConnMaxLifetime(time.Hour)

	return database, nil
}

func initRedis() (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     viper.GetString("redis.addr"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
		PoolSize: viper.GetInt("redis.pool_size"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	return client, nil
}
