// reconcile.go — сервис сверки метаданных с диском.
//
// Сверка проходит по всем записям и деактивирует активные записи,
// у которых блоб отсутствует на диске. Повторный запуск на
// неизменённом хранилище ничего не находит: неактивные записи
// в сверке не участвуют.
//
// Запускается по требованию (POST /storage/cleanup) и, при ненулевом
// FV_CLEANUP_INTERVAL, фоновой горутиной с периодическим тикером.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gofilevault/internal/repository"
	"github.com/bigkaa/gofilevault/internal/storage/blob"
)

// Prometheus метрики сверки
var (
	// cleanupRunsTotal — количество запусков сверки.
	cleanupRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fv_cleanup_runs_total",
		Help: "Общее количество запусков сверки",
	})

	// cleanupRemovedTotal — количество деактивированных записей.
	cleanupRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fv_cleanup_removed_total",
		Help: "Общее количество записей, деактивированных сверкой",
	})

	// cleanupDurationSeconds — длительность выполнения сверки.
	cleanupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fv_cleanup_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// CleanupReport — результат одного прохода сверки.
type CleanupReport struct {
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	// Checked — количество проверенных записей (все, включая неактивные)
	Checked int `json:"checked"`
	// Removed — количество записей, деактивированных этим проходом
	Removed int `json:"removed"`
	// Errors — количество записей, проверку которых завершить не удалось
	Errors int `json:"errors"`
}

// ReconcileService — сервис сверки метаданных с диском.
type ReconcileService struct {
	repo     repository.FileRepository
	store    *blob.Store
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // сверка в процессе выполнения
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис сверки.
// interval == 0 означает, что фоновый запуск отключён,
// сверка выполняется только по требованию.
func NewReconcileService(
	repo repository.FileRepository,
	store *blob.Store,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		repo:     repo,
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
// При нулевом интервале ничего не делает.
func (rs *ReconcileService) Start(ctx context.Context) {
	if rs.interval <= 0 {
		rs.logger.Info("Фоновая сверка отключена (интервал 0)")
		return
	}

	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Фоновая сверка запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновую горутину сверки.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Фоновая сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход сверки.
// Потокобезопасен: если сверка уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*CleanupReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	startedAt := time.Now().UTC()
	rs.logger.Info("Сверка начата")

	report := &CleanupReport{StartedAt: startedAt}

	records, err := rs.repo.All(ctx)
	if err != nil {
		rs.logger.Error("Ошибка полного скана записей", slog.String("error", err.Error()))
		report.Errors++
		report.CompletedAt = time.Now().UTC()
		return report, false
	}

	for _, rec := range records {
		report.Checked++

		// Неактивные записи уже обработаны прошлыми проходами
		if !rec.Active {
			continue
		}
		if rs.store.Exists(rec.Path) {
			continue
		}

		// Активная запись без блоба — деактивируем
		if err := rs.repo.SoftDelete(ctx, rec.ID); err != nil {
			rs.logger.Error("Ошибка деактивации осиротевшей записи",
				slog.String("file_id", rec.ID),
				slog.String("path", rec.Path),
				slog.String("error", err.Error()),
			)
			report.Errors++
			continue
		}

		rs.logger.Warn("Запись без блоба деактивирована",
			slog.String("file_id", rec.ID),
			slog.String("path", rec.Path),
		)
		report.Removed++
	}

	report.CompletedAt = time.Now().UTC()
	duration := report.CompletedAt.Sub(startedAt)

	cleanupRunsTotal.Inc()
	cleanupRemovedTotal.Add(float64(report.Removed))
	cleanupDurationSeconds.Observe(duration.Seconds())

	rs.logger.Info("Сверка завершена",
		slog.Int("checked", report.Checked),
		slog.Int("removed", report.Removed),
		slog.Int("errors", report.Errors),
		slog.Duration("duration", duration),
	)

	return report, false
}
