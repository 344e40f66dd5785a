package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"moby-monitor/internal/broadcaster"
	"moby-monitor/internal/config"
	"moby-monitor/internal/consumer"
	"moby-monitor/internal/detector"
	"moby-monitor/internal/enricher"
	"moby-monitor/internal/httpapi"
	"moby-monitor/internal/models"
	"moby-monitor/internal/normalizer"
	"moby-monitor/internal/notifier"
	"moby-monitor/internal/repository"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const stalenessSweepInterval = 30 * time.Second

// MonitorService 监控服务（整合各层）
// 实现 detector.Sink：检测引擎的报警生命周期回调在这里落库、通知、广播
type MonitorService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	alertEventsRepo *repository.AlertEventsRepository
	readingsRepo    *repository.SensorReadingsRepository
	cacheManager    *consumer.CacheManager
	hub             *broadcaster.Hub
	engine          *detector.Engine
	dispatcher      *notifier.Dispatcher
	enricher        *enricher.Enricher
	mqttClient      *consumer.MQTTClient
	mqttConsumer    *consumer.MQTTConsumer
	httpServer      *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitorService 创建监控服务
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	alertEventsRepo := repository.NewAlertEventsRepository(db, logger)
	readingsRepo := repository.NewSensorReadingsRepository(db, logger)

	// 4. 创建缓存与广播
	cacheManager := consumer.NewCacheManager(cfg, redisClient, logger)
	hub := broadcaster.NewHub(logger)

	// 5. 创建通知与分析
	senders := []notifier.Sender{}
	emailSender := notifier.NewEmailSender(cfg, logger)
	if emailSender.Enabled() {
		senders = append(senders, emailSender)
	} else {
		logger.Warn("Email credentials not set, email channel disabled")
	}
	dispatcher := notifier.NewDispatcher(cfg, senders, logger)
	enrich := enricher.NewEnricher(cfg, logger)

	s := &MonitorService{
		config:          cfg,
		db:              db,
		redisClient:     redisClient,
		logger:          logger,
		alertEventsRepo: alertEventsRepo,
		readingsRepo:    readingsRepo,
		cacheManager:    cacheManager,
		hub:             hub,
		dispatcher:      dispatcher,
		enricher:        enrich,
	}

	// 6. 创建检测引擎（状态快照存 Redis，重启可恢复）
	stateStore := detector.NewRedisStateStore(cfg, redisClient, logger)
	s.engine = detector.NewEngine(cfg, stateStore, s, logger)

	// 7. 创建 MQTT 消费者
	mqttClient, err := consumer.NewMQTTClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create mqtt client: %w", err)
	}
	s.mqttClient = mqttClient
	s.mqttConsumer = consumer.NewMQTTConsumer(cfg, mqttClient, normalizer.NewNormalizer(logger), s.HandleReading, logger)

	// 8. 创建 HTTP 服务
	router := httpapi.NewRouter(logger)
	router.RegisterMonitorRoutes(
		httpapi.NewAlertHandler(alertEventsRepo, cacheManager, logger),
		httpapi.NewSensorHandler(cacheManager, readingsRepo, logger),
		httpapi.NewWSHandler(hub, logger),
	)
	s.httpServer = &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	return s, nil
}

// Start 启动服务
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting monitor service",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.String("mqtt_topic", s.mqttConsumer.Topic()),
	)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// 广播循环
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(runCtx)
	}()

	// 静默扫描
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.engine.RunStalenessSweep(runCtx, stalenessSweepInterval)
	}()

	// MQTT 订阅
	if err := s.mqttConsumer.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start mqtt consumer: %w", err)
	}

	// HTTP 服务
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务
// 顺序：先断入站（MQTT），再排空检测队列，最后关出站与存储
func (s *MonitorService) Stop() error {
	s.logger.Info("Stopping monitor service")

	if s.mqttConsumer != nil {
		_ = s.mqttConsumer.Stop()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.engine != nil {
		s.engine.Stop()
	}

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown http server", zap.Error(err))
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

// HandleReading 归一化读数的入站处理
// 任一支路失败只记日志，绝不阻断检测
func (s *MonitorService) HandleReading(reading models.Reading) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.readingsRepo.InsertReading(ctx, reading); err != nil {
		s.logger.Error("Failed to persist reading",
			zap.String("sensor_type", reading.SensorType),
			zap.Error(err),
		)
	}

	if err := s.cacheManager.SetLatestReading(ctx, reading); err != nil {
		s.logger.Warn("Failed to cache latest reading",
			zap.String("sensor_type", reading.SensorType),
			zap.Error(err),
		)
	}

	s.hub.BroadcastReading(reading)
	s.engine.Process(reading)
}

// AlertOpened 实现 detector.Sink
// 同步落库保证事件可追溯，通知与分析移到后台
func (s *MonitorService) AlertOpened(event *models.AlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.alertEventsRepo.CreateAlertEvent(ctx, event); err != nil {
		s.logger.Error("Failed to persist alert event",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}

	s.refreshActiveAlerts(ctx)
	s.hub.BroadcastAlert("alert", event)

	// 通知与分析互不等待：慢 LLM 不得拖住推送
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.notify(event)
	}()

	if s.enricher.Enabled() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.enrich(event)
		}()
	}
}

// AlertResolved 实现 detector.Sink
func (s *MonitorService) AlertResolved(key detector.Key, eventID string, resolvedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.alertEventsRepo.ResolveAlertEvent(ctx, eventID, resolvedAt); err != nil {
		s.logger.Error("Failed to resolve alert event",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
	}

	s.refreshActiveAlerts(ctx)

	event, err := s.alertEventsRepo.GetAlertEvent(ctx, eventID)
	if err != nil {
		s.logger.Warn("Resolved event not readable for broadcast",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		event = &models.AlertEvent{
			EventID:    eventID,
			SensorType: key.SensorType,
			Metric:     key.Metric,
			ResolvedAt: &resolvedAt,
		}
	}
	s.hub.BroadcastAlert("alert", event)
}

// notify 后台通知投递
func (s *MonitorService) notify(event *models.AlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Notify.RetryBudget+10*time.Second)
	defer cancel()
	s.dispatcher.Notify(ctx, event)
}

// enrich 后台生成分析文本，落库后以 alert_update 帧补发给订阅端
// 失败只导致事件缺少 analysis，不影响已发出的通知
func (s *MonitorService) enrich(event *models.AlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.LLM.Timeout+5*time.Second)
	defer cancel()

	recent, err := s.readingsRepo.QueryRange(ctx, event.SensorType,
		event.TriggeredAt.Add(-s.config.LLM.LookbackWindow), event.TriggeredAt)
	if err != nil {
		s.logger.Warn("Failed to load recent readings for analysis",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}

	analysis, err := s.enricher.Enrich(ctx, event, recent)
	if err != nil {
		s.logger.Warn("Alert analysis failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer saveCancel()
	if err := s.alertEventsRepo.AttachAnalysis(saveCtx, event.EventID, analysis); err != nil {
		s.logger.Error("Failed to attach analysis",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}

	// 通知 goroutine 可能还持有 event，广播用副本避免共享写
	enriched := *event
	enriched.Analysis = &analysis
	s.hub.BroadcastAlert("alert_update", &enriched)
}

// refreshActiveAlerts 以数据库为准刷新活跃报警缓存
func (s *MonitorService) refreshActiveAlerts(ctx context.Context) {
	active, err := s.alertEventsRepo.ListActiveAlertEvents(ctx)
	if err != nil {
		s.logger.Warn("Failed to list active alerts", zap.Error(err))
		return
	}
	if err := s.cacheManager.UpdateActiveAlerts(ctx, active); err != nil {
		s.logger.Warn("Failed to update active alerts cache", zap.Error(err))
	}
}
