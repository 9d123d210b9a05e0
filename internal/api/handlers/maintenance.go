// maintenance.go — обработчик POST /storage/cleanup.
// Делегирует сверку метаданных с диском в ReconcileService.
package handlers

import (
	"context"
	"net/http"

	apierrors "github.com/bigkaa/gofilevault/internal/api/errors"
	"github.com/bigkaa/gofilevault/internal/service"
)

// CleanupRunner — интерфейс для запуска сверки.
// Позволяет тестировать handler без полного ReconcileService.
type CleanupRunner interface {
	// RunOnce выполняет один проход сверки.
	// Возвращает отчёт и флаг "уже выполняется".
	RunOnce(ctx context.Context) (*service.CleanupReport, bool)
	// IsInProgress возвращает true, если сверка выполняется.
	IsInProgress() bool
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler CleanupRunner
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reconciler CleanupRunner) *MaintenanceHandler {
	return &MaintenanceHandler{reconciler: reconciler}
}

// Cleanup обрабатывает POST /storage/cleanup.
// Запускает синхронный проход сверки и возвращает отчёт.
// Если сверка уже выполняется — 409 CLEANUP_IN_PROGRESS.
func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	report, inProgress := h.reconciler.RunOnce(r.Context())
	if inProgress {
		apierrors.CleanupInProgress(w, "Сверка уже выполняется")
		return
	}

	writeJSON(w, http.StatusOK, report)
}
