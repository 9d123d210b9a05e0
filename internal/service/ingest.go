// Пакет service — бизнес-логика File Vault.
// ingest.go — конвейер приёма файла: валидация, идентичность,
// запись блоба, миниатюра, регистрация метаданных.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	apierrors "github.com/bigkaa/gofilevault/internal/api/errors"
	"github.com/bigkaa/gofilevault/internal/api/middleware"
	"github.com/bigkaa/gofilevault/internal/config"
	"github.com/bigkaa/gofilevault/internal/domain/model"
	"github.com/bigkaa/gofilevault/internal/repository"
	"github.com/bigkaa/gofilevault/internal/storage/blob"
	"github.com/bigkaa/gofilevault/internal/storage/layout"
	"github.com/bigkaa/gofilevault/internal/storage/thumbnail"
)

// IngestParams — параметры приёма файла.
type IngestParams struct {
	// Data — содержимое файла
	Data []byte
	// OriginalFilename — оригинальное имя файла
	OriginalFilename string
	// ContentType — MIME-тип из multipart part
	ContentType string
	// Category — категория файла (profile, document, form_field, ...)
	Category string
	// EntityType — тип связанной сущности (опционально)
	EntityType string
	// EntityID — идентификатор связанной сущности (опционально)
	EntityID string
	// UploadedBy — идентификатор загрузившего (опционально)
	UploadedBy string
	// Description — описание файла (опционально)
	Description string
	// Metadata — произвольные пары ключ-значение (опционально)
	Metadata map[string]string
}

// IngestError — ошибка приёма файла с HTTP-кодом.
type IngestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IngestService — сервис приёма файлов.
type IngestService struct {
	cfg     *config.Config
	store   *blob.Store
	thumbs  *thumbnail.Deriver
	repo    repository.FileRepository
	allowed map[string]bool
	logger  *slog.Logger
}

// NewIngestService создаёт сервис приёма файлов.
func NewIngestService(
	cfg *config.Config,
	store *blob.Store,
	thumbs *thumbnail.Deriver,
	repo repository.FileRepository,
	logger *slog.Logger,
) *IngestService {
	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, mt := range cfg.AllowedTypes {
		allowed[strings.ToLower(mt)] = true
	}
	return &IngestService{
		cfg:     cfg,
		store:   store,
		thumbs:  thumbs,
		repo:    repo,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "ingest_service")),
	}
}

// Ingest проводит файл через конвейер приёма.
//
// Поток:
//  1. Валидация: имя, категория, размер, MIME-тип
//  2. Генерация идентичности: id + уникальное stored-имя
//  3. Запись блоба (temp + fsync + rename)
//  4. Миниатюра для изображений (ошибка не фатальна)
//  5. Регистрация метаданных в PostgreSQL
//
// При ошибке после записи блоба — компенсирующая очистка:
// удаление блоба и миниатюры, чтобы не оставлять сирот на диске.
func (s *IngestService) Ingest(ctx context.Context, params IngestParams) (*model.FileRecord, *IngestError) {
	// 1. Валидация входных данных
	if strings.TrimSpace(params.OriginalFilename) == "" {
		return nil, &IngestError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "Имя файла не может быть пустым",
		}
	}

	category, err := model.ParseCategory(params.Category)
	if err != nil {
		return nil, &IngestError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    err.Error(),
		}
	}

	entityType, err := model.ParseEntityType(params.EntityType)
	if err != nil {
		return nil, &IngestError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    err.Error(),
		}
	}

	size := int64(len(params.Data))
	if size == 0 {
		return nil, &IngestError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "Пустой файл не принимается",
		}
	}
	if size > s.cfg.MaxUploadSize {
		middleware.OperationsTotal.WithLabelValues("upload", "rejected").Inc()
		return nil, &IngestError{
			StatusCode: 413,
			Code:       apierrors.CodePayloadTooLarge,
			Message: fmt.Sprintf("Размер файла %d байт превышает максимум %d байт",
				size, s.cfg.MaxUploadSize),
		}
	}

	mimetype := normalizeContentType(params.ContentType)
	if !s.allowed[mimetype] {
		middleware.OperationsTotal.WithLabelValues("upload", "rejected").Inc()
		return nil, &IngestError{
			StatusCode: 415,
			Code:       apierrors.CodeUnsupportedMediaType,
			Message:    fmt.Sprintf("MIME-тип %q не входит в список разрешённых", mimetype),
		}
	}

	// В записи MIME-тип хранится в заявленном клиентом виде;
	// нормализованная форма используется только для проверки
	// allow-list и решения о миниатюре.
	declaredType := strings.TrimSpace(params.ContentType)
	if declaredType == "" {
		declaredType = "application/octet-stream"
	}

	// 2. Идентичность: id записи и stored-имя с сохранением расширения
	fileID := uuid.New().String()
	stored := layout.StoredFilename(params.OriginalFilename)
	relPath := layout.FilePath(category, stored)

	// 3. Запись блоба на диск
	if err := s.store.Write(relPath, params.Data); err != nil {
		s.logger.Error("Ошибка записи блоба",
			slog.String("file_id", fileID),
			slog.String("path", relPath),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, &IngestError{
			StatusCode: 500,
			Code:       apierrors.CodeStorageError,
			Message:    "Ошибка сохранения файла на диск",
		}
	}

	// Компенсирующая очистка: при ошибке дальше по конвейеру
	// удаляем блоб и миниатюру, сирот на диске не оставляем.
	thumbPath := ""
	rollback := func() {
		_ = s.store.Delete(relPath)
		if thumbPath != "" {
			_ = s.store.Delete(thumbPath)
		}
	}

	// 4. Миниатюра — только для изображений; ошибка генерации не фатальна,
	// файл просто остаётся без миниатюры.
	if model.IsImageMimetype(mimetype) {
		thumbData, thumbErr := s.thumbs.Derive(params.Data)
		if thumbErr != nil {
			s.logger.Warn("Не удалось сгенерировать миниатюру",
				slog.String("file_id", fileID),
				slog.String("mimetype", mimetype),
				slog.String("error", thumbErr.Error()),
			)
		} else {
			tp := layout.ThumbPath(stored)
			if writeErr := s.store.Write(tp, thumbData); writeErr != nil {
				s.logger.Warn("Не удалось записать миниатюру",
					slog.String("file_id", fileID),
					slog.String("path", tp),
					slog.String("error", writeErr.Error()),
				)
			} else {
				thumbPath = tp
			}
		}
	}

	// 5. Регистрация метаданных. Запись в БД — последний шаг:
	// запись существует только при живом блобе на диске.
	record := &model.FileRecord{
		ID:               fileID,
		OriginalFilename: params.OriginalFilename,
		StoredFilename:   stored,
		Mimetype:         declaredType,
		Size:             size,
		Category:         category,
		EntityType:       entityType,
		EntityID:         params.EntityID,
		Path:             relPath,
		ThumbnailPath:    thumbPath,
		UploadedBy:       params.UploadedBy,
		Description:      params.Description,
		Metadata:         params.Metadata,
		Active:           true,
	}
	if record.Metadata == nil {
		record.Metadata = map[string]string{}
	}

	if err := s.repo.Create(ctx, record); err != nil {
		rollback()
		s.logger.Error("Ошибка регистрации метаданных",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, &IngestError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка регистрации метаданных файла",
		}
	}

	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	middleware.UploadBytesTotal.Add(float64(size))

	s.logger.Info("Файл принят",
		slog.String("file_id", fileID),
		slog.String("filename", params.OriginalFilename),
		slog.String("mimetype", declaredType),
		slog.Int64("size", size),
		slog.String("category", string(category)),
		slog.Bool("thumbnail", thumbPath != ""),
	)

	return record, nil
}

// normalizeContentType приводит MIME-тип к нижнему регистру
// и отбрасывает параметры (charset и т.д.).
// Пустой тип трактуется как application/octet-stream.
func normalizeContentType(contentType string) string {
	if contentType == "" {
		return "application/octet-stream"
	}
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
