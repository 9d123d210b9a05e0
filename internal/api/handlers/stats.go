// stats.go — обработчик GET /storage/stats.
// Сводка хранилища: количество записей, файлы на диске, ёмкость.
package handlers

import (
	"log/slog"
	"net/http"
	"path"

	apierrors "github.com/bigkaa/gofilevault/internal/api/errors"
	"github.com/bigkaa/gofilevault/internal/repository"
	"github.com/bigkaa/gofilevault/internal/storage/blob"
	"github.com/bigkaa/gofilevault/internal/storage/layout"
)

// StatsHandler — обработчик статистики хранилища.
type StatsHandler struct {
	repo   repository.FileRepository
	store  *blob.Store
	logger *slog.Logger
}

// NewStatsHandler создаёт обработчик статистики.
func NewStatsHandler(repo repository.FileRepository, store *blob.Store, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		repo:   repo,
		store:  store,
		logger: logger.With(slog.String("component", "stats_handler")),
	}
}

// Stats обрабатывает GET /storage/stats.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	active, err := h.repo.CountByActive(r.Context(), true)
	if err != nil {
		h.logger.Error("Ошибка подсчёта активных записей", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка получения статистики")
		return
	}
	inactive, err := h.repo.CountByActive(r.Context(), false)
	if err != nil {
		h.logger.Error("Ошибка подсчёта неактивных записей", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка получения статистики")
		return
	}

	// Файлы и байты на диске по поддиректориям схемы
	diskFiles := 0
	var diskBytes int64
	subdirUsage := map[string]any{}
	for _, sub := range layout.Subdirs() {
		names, err := h.store.ListDir(sub)
		if err != nil {
			h.logger.Warn("Ошибка чтения поддиректории",
				slog.String("subdir", sub),
				slog.String("error", err.Error()),
			)
			continue
		}
		var subBytes int64
		for _, name := range names {
			size, err := h.store.Size(path.Join(sub, name))
			if err != nil {
				continue
			}
			subBytes += size
		}
		diskFiles += len(names)
		diskBytes += subBytes
		subdirUsage[sub] = map[string]any{
			"files": len(names),
			"bytes": subBytes,
		}
	}

	resp := map[string]any{
		"records": map[string]any{
			"active":   active,
			"inactive": inactive,
		},
		"disk": map[string]any{
			"files":   diskFiles,
			"bytes":   diskBytes,
			"subdirs": subdirUsage,
		},
	}

	// Ёмкость файловой системы — best effort
	if total, used, available, err := h.store.DiskUsage(); err == nil {
		resp["capacity"] = map[string]any{
			"total_bytes":     total,
			"used_bytes":      used,
			"available_bytes": available,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
