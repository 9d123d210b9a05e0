// storage.go — HTTP handlers файловых операций File Vault.
// Upload, Download, View, Thumbnail, Metadata, List, Delete.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/gofilevault/internal/api/errors"
	"github.com/bigkaa/gofilevault/internal/api/middleware"
	"github.com/bigkaa/gofilevault/internal/config"
	"github.com/bigkaa/gofilevault/internal/domain/model"
	"github.com/bigkaa/gofilevault/internal/repository"
	"github.com/bigkaa/gofilevault/internal/service"
)

// multipartMemoryLimit — буфер парсинга multipart form в памяти.
const multipartMemoryLimit = 32 << 20 // 32 MB

// StorageHandler — обработчик файловых endpoints.
type StorageHandler struct {
	cfg         *config.Config
	ingestSvc   *service.IngestService
	retrieveSvc *service.RetrieveService
	repo        repository.FileRepository
}

// NewStorageHandler создаёт обработчик файловых endpoints.
func NewStorageHandler(
	cfg *config.Config,
	ingestSvc *service.IngestService,
	retrieveSvc *service.RetrieveService,
	repo repository.FileRepository,
) *StorageHandler {
	return &StorageHandler{
		cfg:         cfg,
		ingestSvc:   ingestSvc,
		retrieveSvc: retrieveSvc,
		repo:        repo,
	}
}

// fileResponse — API-представление записи файла.
// Внутренний путь на диске наружу не отдаётся.
// thumbnailUrl — null, если миниатюры нет.
type fileResponse struct {
	ID               string            `json:"id"`
	OriginalFilename string            `json:"originalFilename"`
	StoredFilename   string            `json:"storedFilename"`
	Mimetype         string            `json:"mimetype"`
	Size             int64             `json:"size"`
	Category         string            `json:"category"`
	EntityType       string            `json:"entityType,omitempty"`
	EntityID         string            `json:"entityId,omitempty"`
	UploadedBy       string            `json:"uploadedBy,omitempty"`
	Description      string            `json:"description,omitempty"`
	Metadata         map[string]string `json:"metadata"`
	HasThumbnail     bool              `json:"hasThumbnail"`
	DownloadURL      string            `json:"downloadUrl"`
	ThumbnailURL     *string           `json:"thumbnailUrl"`
	UploadedAt       string            `json:"uploadedAt"`
	UpdatedAt        string            `json:"updatedAt"`
}

// fileListResponse — страница списка файлов.
type fileListResponse struct {
	Data   []fileResponse `json:"data"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Upload обрабатывает POST /storage/upload.
// Multipart form: file (обязательно), category (обязательно),
// entityType, entityId, uploadedBy, description, metadata (JSON-объект) — опциональны.
func (h *StorageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Жёсткий лимит тела запроса: размер файла + запас на остальные поля формы
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize+(1<<20))

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf(
				"Размер запроса превышает максимум %d байт", h.cfg.MaxUploadSize))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка чтения файла: %s", err.Error()))
		return
	}

	// Произвольные метаданные — JSON-объект строка → строка
	var metadata map[string]string
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный формат metadata: %s", err.Error()))
			return
		}
	}

	record, ierr := h.ingestSvc.Ingest(r.Context(), service.IngestParams{
		Data:             data,
		OriginalFilename: header.Filename,
		ContentType:      header.Header.Get("Content-Type"),
		Category:         r.FormValue("category"),
		EntityType:       r.FormValue("entityType"),
		EntityID:         r.FormValue("entityId"),
		UploadedBy:       r.FormValue("uploadedBy"),
		Description:      r.FormValue("description"),
		Metadata:         metadata,
	})
	if ierr != nil {
		apierrors.WriteError(w, ierr.StatusCode, ierr.Code, ierr.Message)
		return
	}

	writeJSON(w, http.StatusCreated, h.toResponse(record))
}

// Download обрабатывает GET /storage/download/{id}.
// Отдаёт файл как attachment с оригинальным именем.
// http.ServeContent обрабатывает Range requests и If-Modified-Since.
func (h *StorageHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.serveBlob(w, r, "attachment")
}

// View обрабатывает GET /storage/view/{id}.
// Отдаёт файл inline для отображения в браузере.
func (h *StorageHandler) View(w http.ResponseWriter, r *http.Request) {
	h.serveBlob(w, r, "inline")
}

// serveBlob — общая логика выдачи блоба для Download и View.
func (h *StorageHandler) serveBlob(w http.ResponseWriter, r *http.Request, disposition string) {
	fileID := pathID(r)

	record, f, rerr := h.retrieveSvc.GetFile(r.Context(), fileID)
	if rerr != nil {
		apierrors.WriteError(w, rerr.StatusCode, rerr.Code, rerr.Message)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		apierrors.InternalError(w, "Ошибка чтения файла")
		return
	}

	w.Header().Set("Content-Type", record.Mimetype)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("%s; filename=%q", disposition, record.OriginalFilename))

	http.ServeContent(w, r, record.OriginalFilename, stat.ModTime(), f)
}

// Thumbnail обрабатывает GET /storage/thumbnail/{id}.
// Миниатюры всегда JPEG, отдаются inline.
func (h *StorageHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	fileID := pathID(r)

	record, f, rerr := h.retrieveSvc.GetThumbnail(r.Context(), fileID)
	if rerr != nil {
		apierrors.WriteError(w, rerr.StatusCode, rerr.Code, rerr.Message)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		apierrors.InternalError(w, "Ошибка чтения миниатюры")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", "inline")

	http.ServeContent(w, r, "thumb_"+record.StoredFilename, stat.ModTime(), f)
}

// Metadata обрабатывает GET /storage/metadata/{id}.
func (h *StorageHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	fileID := pathID(r)

	record, rerr := h.retrieveSvc.GetMetadata(r.Context(), fileID)
	if rerr != nil {
		apierrors.WriteError(w, rerr.StatusCode, rerr.Code, rerr.Message)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(record))
}

// List обрабатывает GET /storage/list.
// Пагинация: limit (1-1000, по умолчанию 50), offset.
// Фильтры: category, entityType, entityId, uploadedBy.
func (h *StorageHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			apierrors.ValidationError(w, "Параметр limit должен быть от 1 до 1000")
			return
		}
		limit = n
	}

	offset := 0
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apierrors.ValidationError(w, "Параметр offset не может быть отрицательным")
			return
		}
		offset = n
	}

	var filters repository.FileListFilters
	if raw := q.Get("category"); raw != "" {
		if _, err := model.ParseCategory(raw); err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		filters.Category = &raw
	}
	if raw := q.Get("entityType"); raw != "" {
		if _, err := model.ParseEntityType(raw); err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		filters.EntityType = &raw
	}
	if raw := q.Get("entityId"); raw != "" {
		filters.EntityID = &raw
	}
	if raw := q.Get("uploadedBy"); raw != "" {
		filters.UploadedBy = &raw
	}

	result, rerr := h.retrieveSvc.List(r.Context(), filters, limit, offset)
	if rerr != nil {
		apierrors.WriteError(w, rerr.StatusCode, rerr.Code, rerr.Message)
		return
	}

	data := make([]fileResponse, 0, len(result.Files))
	for _, f := range result.Files {
		data = append(data, h.toResponse(f))
	}

	writeJSON(w, http.StatusOK, fileListResponse{
		Data:   data,
		Total:  result.Total,
		Limit:  result.Limit,
		Offset: result.Offset,
	})
}

// Delete обрабатывает DELETE /storage/{id}.
// Мягкое удаление: запись деактивируется, блоб остаётся на диске.
// Повторное удаление неотличимо от удаления несуществующего файла.
func (h *StorageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	fileID := pathID(r)

	if err := h.repo.SoftDelete(r.Context(), fileID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("Файл %s не найден", fileID))
			return
		}
		apierrors.InternalError(w, "Ошибка удаления файла")
		return
	}

	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      fileID,
		"deleted": true,
	})
}

// toResponse преобразует доменную запись в API-формат.
func (h *StorageHandler) toResponse(f *model.FileRecord) fileResponse {
	resp := fileResponse{
		ID:               f.ID,
		OriginalFilename: f.OriginalFilename,
		StoredFilename:   f.StoredFilename,
		Mimetype:         f.Mimetype,
		Size:             f.Size,
		Category:         string(f.Category),
		EntityType:       string(f.EntityType),
		EntityID:         f.EntityID,
		UploadedBy:       f.UploadedBy,
		Description:      f.Description,
		Metadata:         f.Metadata,
		HasThumbnail:     f.HasThumbnail(),
		DownloadURL:      h.cfg.BaseURL + "/storage/download/" + f.ID,
		UploadedAt:       formatTime(f.UploadedAt),
		UpdatedAt:        formatTime(f.UpdatedAt),
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]string{}
	}
	if f.HasThumbnail() {
		u := h.cfg.BaseURL + "/storage/thumbnail/" + f.ID
		resp.ThumbnailURL = &u
	}
	return resp
}
