package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"referral-gate/internal/bot"
	"referral-gate/internal/config"
	"referral-gate/internal/membership"
	"referral-gate/internal/metrics"
	"referral-gate/internal/onboarding"
	"referral-gate/internal/referral"
	"referral-gate/internal/scheduler"
	"referral-gate/internal/store"
	"referral-gate/internal/telegram"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализация логгера
	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск referral-gate",
		zap.String("env", cfg.App.Env),
		zap.String("storage", cfg.Storage.Driver),
		zap.Strings("channels", cfg.Membership.Channels))

	// Создание канала для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализация хранилища леджера
	ledgerStore, err := store.NewStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации хранилища", zap.Error(err))
	}
	defer ledgerStore.Close()

	// Инициализация метрик
	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, logger)

	// Инициализация Telegram бота
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Fatal("ошибка инициализации Telegram бота", zap.Error(err))
	}

	botInfo, err := botAPI.GetMe()
	if err != nil {
		logger.Fatal("ошибка получения информации о боте", zap.Error(err))
	}

	logger.Info("Telegram бот инициализирован",
		zap.String("username", botInfo.UserName),
		zap.Int64("id", botInfo.ID))

	botUsername := cfg.Telegram.BotUsername
	if botUsername == "" {
		botUsername = botInfo.UserName
	}

	// Инициализация планировщика задач
	taskScheduler := scheduler.NewScheduler(logger)

	// Проверка подписки; кэш без TTL не включается
	var gateOpts []membership.Option
	cacheDriver := cfg.Membership.CacheDriver
	if cfg.Membership.CacheTTL <= 0 {
		cacheDriver = "none"
	}
	switch cacheDriver {
	case "memory":
		cache := membership.NewMemoryCache()
		gateOpts = append(gateOpts, membership.WithCache(cache, cfg.Membership.CacheTTL))
		taskScheduler.AddJob(scheduler.NewCacheSweepJob(cache, logger))
	case "redis":
		cache, err := membership.NewRedisCache(ctx, cfg.Membership.RedisURL)
		if err != nil {
			logger.Fatal("ошибка подключения кэша подписки", zap.Error(err))
		}
		defer cache.Close()
		gateOpts = append(gateOpts, membership.WithCache(cache, cfg.Membership.CacheTTL))
	}

	gate := membership.NewGate(
		telegram.NewOracle(botAPI, logger),
		cfg.Membership.Channels,
		cfg.Membership.CheckTimeout,
		metricsSystem,
		logger,
		gateOpts...,
	)

	// Машина состояний онбординга владеет леджером
	machine, err := onboarding.New(ctx, ledgerStore,
		referral.NewEngine(cfg.Referral.Reward),
		gate,
		telegram.NewNotifier(botAPI, logger),
		metricsSystem,
		logger)
	if err != nil {
		logger.Fatal("ошибка загрузки леджера", zap.Error(err))
	}
	taskScheduler.AddJob(scheduler.NewLedgerStatsJob(machine))

	rateLimiter := bot.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	taskScheduler.AddJob(scheduler.NewRateLimiterCleanupJob(rateLimiter, time.Hour, logger))

	// Инициализация обработчика
	handler := bot.NewHandler(botAPI, machine, rateLimiter, bot.Options{
		BotUsername:    botUsername,
		Channels:       cfg.Membership.Channels,
		SupportContact: cfg.Telegram.SupportContact,
	}, logger)

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Запуск HTTP сервера для метрик
	go startMetricsServer(ctx, cfg.App.Port, metricsHandler, logger)

	// Запуск планировщика задач
	go taskScheduler.Start(ctx, time.Minute)

	// Запуск обработки обновлений
	go handleUpdates(ctx, botAPI, handler, logger)

	logger.Info("приложение запущено и готово к работе",
		zap.String("address", fmt.Sprintf("http://localhost:%d", cfg.App.Port)),
	)

	// Ожидание сигнала завершения
	<-sigChan
	logger.Info("получен сигнал завершения, начинаем graceful shutdown")

	// Останавливаем получение обновлений
	botAPI.StopReceivingUpdates()
	cancel()

	stats := machine.Stats()
	logger.Info("приложение завершено",
		zap.Int64("users", stats.Users),
		zap.Int64("points", stats.Points))
}

// initLogger инициализирует логгер
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var logConfig zap.Config
	if cfg.App.IsProduction() {
		logConfig = zap.NewProductionConfig()
	} else {
		logConfig = zap.NewDevelopmentConfig()
	}
	logConfig.Level = cfg.App.GetLogLevel()
	logConfig.OutputPaths = []string{"stdout", "logs/app.log"}
	logConfig.ErrorOutputPaths = []string{"stderr", "logs/error.log"}

	// Создаем директорию для логов если её нет
	if err := os.MkdirAll("logs", 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
	}

	return logConfig.Build()
}

// handleUpdates обрабатывает обновления от Telegram
func handleUpdates(ctx context.Context, bot *tgbotapi.BotAPI, handler *bot.Handler, logger *zap.Logger) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := bot.GetUpdatesChan(updateConfig)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				logger.Info("канал обновлений закрыт")
				return
			}

			// Пропускаем пустые обновления
			if update.Message == nil && update.CallbackQuery == nil {
				continue
			}

			// Обрабатываем обновление в горутине
			go func(update tgbotapi.Update) {
				if err := handler.HandleUpdate(ctx, update); err != nil {
					// Определяем chat_id для логирования
					var chatID int64
					if update.Message != nil {
						chatID = update.Message.Chat.ID
					} else if update.CallbackQuery != nil && update.CallbackQuery.Message != nil {
						chatID = update.CallbackQuery.Message.Chat.ID
					}

					logger.Error("ошибка обработки обновления",
						zap.Int64("chat_id", chatID),
						zap.Error(err))
				}
			}(update)

		case <-ctx.Done():
			logger.Info("остановка обработки обновлений")
			return
		}
	}
}

// startMetricsServer запускает HTTP сервер для метрик и health check
func startMetricsServer(ctx context.Context, port int, handler *metrics.Handler, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler.MetricsHandler())
	mux.HandleFunc("/health", handler.HealthHandler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("HTTP сервер метрик запущен", zap.String("address", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ошибка HTTP сервера метрик", zap.Error(err))
		}
	}()

	// Ожидание сигнала завершения
	<-ctx.Done()

	// Graceful shutdown HTTP сервера
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка при остановке HTTP сервера метрик", zap.Error(err))
	}

	logger.Info("HTTP сервер метрик остановлен")
}
