// Точка входа File Vault — сервиса хранения файлов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/gofilevault/internal/api/handlers"
	"github.com/bigkaa/gofilevault/internal/api/middleware"
	"github.com/bigkaa/gofilevault/internal/config"
	"github.com/bigkaa/gofilevault/internal/database"
	"github.com/bigkaa/gofilevault/internal/repository"
	"github.com/bigkaa/gofilevault/internal/server"
	"github.com/bigkaa/gofilevault/internal/service"
	"github.com/bigkaa/gofilevault/internal/storage/blob"
	"github.com/bigkaa/gofilevault/internal/storage/layout"
	"github.com/bigkaa/gofilevault/internal/storage/thumbnail"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("File Vault запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_root", cfg.StorageRoot),
	)

	// --- Инициализация компонентов ---

	// 1. Дерево хранения на диске
	if err := layout.Ensure(cfg.StorageRoot); err != nil {
		logger.Error("Ошибка инициализации дерева хранения", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := blob.New(cfg.StorageRoot)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища блобов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. PostgreSQL: миграции и пул подключений
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	repo := repository.NewFileRepository(pool)

	// Начальные значения Prometheus метрик записей
	updateFileMetrics(ctx, repo, logger)

	// 3. Сервисы
	thumbs := thumbnail.New(cfg.ThumbWidth, cfg.ThumbHeight, cfg.ThumbQuality)
	ingestSvc := service.NewIngestService(cfg, store, thumbs, repo, logger)
	retrieveSvc := service.NewRetrieveService(store, repo, logger)

	// 4. Фоновая сверка метаданных с диском
	reconcileSvc := service.NewReconcileService(repo, store, cfg.CleanupInterval, logger)
	reconcileSvc.Start(ctx)

	// 5. Handlers
	h := server.Handlers{
		Storage:     handlers.NewStorageHandler(cfg, ingestSvc, retrieveSvc, repo),
		Maintenance: handlers.NewMaintenanceHandler(reconcileSvc),
		Health:      handlers.NewHealthHandler(cfg.StorageRoot, database.NewReadinessChecker(pool)),
		Stats:       handlers.NewStatsHandler(repo, store, logger),
	}

	// 6. API-key middleware
	auth := middleware.NewAPIKeyAuth(cfg.APIKey, logger)

	// 7. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h, auth)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	reconcileSvc.Stop()

	logger.Info("File Vault остановлен")
}

// updateFileMetrics выставляет начальные значения gauge записей из БД.
// Ошибки не фатальны: метрики будут обновлены первыми операциями.
func updateFileMetrics(ctx context.Context, repo repository.FileRepository, logger *slog.Logger) {
	for _, state := range []struct {
		label  string
		active bool
	}{
		{"active", true},
		{"inactive", false},
	} {
		count, err := repo.CountByActive(ctx, state.active)
		if err != nil {
			logger.Warn("Ошибка подсчёта записей для метрик",
				slog.String("state", state.label),
				slog.String("error", err.Error()),
			)
			continue
		}
		middleware.FilesTotal.WithLabelValues(state.label).Set(float64(count))
	}
}
