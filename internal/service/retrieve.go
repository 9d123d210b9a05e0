// retrieve.go — сервис выдачи файлов, миниатюр и метаданных.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	apierrors "github.com/bigkaa/gofilevault/internal/api/errors"
	"github.com/bigkaa/gofilevault/internal/api/middleware"
	"github.com/bigkaa/gofilevault/internal/domain/model"
	"github.com/bigkaa/gofilevault/internal/repository"
	"github.com/bigkaa/gofilevault/internal/storage/blob"
)

// RetrieveError — ошибка выдачи с HTTP-кодом.
type RetrieveError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RetrieveError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RetrieveService — сервис выдачи файлов.
type RetrieveService struct {
	store  *blob.Store
	repo   repository.FileRepository
	logger *slog.Logger
}

// NewRetrieveService создаёт сервис выдачи файлов.
func NewRetrieveService(
	store *blob.Store,
	repo repository.FileRepository,
	logger *slog.Logger,
) *RetrieveService {
	return &RetrieveService{
		store:  store,
		repo:   repo,
		logger: logger.With(slog.String("component", "retrieve_service")),
	}
}

// GetFile возвращает активную запись и открытый файл блоба.
// Неактивная или отсутствующая запись — 404, без различия снаружи.
// Запись есть, а блоба на диске нет — тоже 404, но с отдельной
// записью в лог: это рассинхронизация, которую устраняет сверка.
// Закрыть файл — обязанность вызывающего.
func (s *RetrieveService) GetFile(ctx context.Context, fileID string) (*model.FileRecord, *os.File, *RetrieveError) {
	record, rerr := s.getActive(ctx, fileID)
	if rerr != nil {
		return nil, nil, rerr
	}

	f, err := s.store.Open(record.Path)
	if err != nil {
		s.logger.Error("Запись активна, но блоб отсутствует на диске",
			slog.String("file_id", fileID),
			slog.String("path", record.Path),
			slog.String("error", err.Error()),
		)
		return nil, nil, &RetrieveError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("Файл %s не найден", fileID),
		}
	}

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()
	return record, f, nil
}

// GetThumbnail возвращает запись и открытый файл миниатюры.
// Для файла без миниатюры — 404.
func (s *RetrieveService) GetThumbnail(ctx context.Context, fileID string) (*model.FileRecord, *os.File, *RetrieveError) {
	record, rerr := s.getActive(ctx, fileID)
	if rerr != nil {
		return nil, nil, rerr
	}

	if !record.HasThumbnail() {
		return nil, nil, &RetrieveError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("Миниатюра для файла %s отсутствует", fileID),
		}
	}

	f, err := s.store.Open(record.ThumbnailPath)
	if err != nil {
		s.logger.Error("Миниатюра зарегистрирована, но отсутствует на диске",
			slog.String("file_id", fileID),
			slog.String("thumbnail_path", record.ThumbnailPath),
			slog.String("error", err.Error()),
		)
		return nil, nil, &RetrieveError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("Миниатюра для файла %s отсутствует", fileID),
		}
	}

	return record, f, nil
}

// GetMetadata возвращает активную запись файла без обращения к диску.
func (s *RetrieveService) GetMetadata(ctx context.Context, fileID string) (*model.FileRecord, *RetrieveError) {
	return s.getActive(ctx, fileID)
}

// ListResult — страница списка файлов.
type ListResult struct {
	Files []*model.FileRecord
	// Total — полное количество записей под фильтрами, не зависит от пагинации
	Total  int
	Limit  int
	Offset int
}

// List возвращает страницу активных записей с фильтрацией.
func (s *RetrieveService) List(ctx context.Context, filters repository.FileListFilters, limit, offset int) (*ListResult, *RetrieveError) {
	files, err := s.repo.List(ctx, filters, limit, offset)
	if err != nil {
		s.logger.Error("Ошибка получения списка файлов", slog.String("error", err.Error()))
		return nil, &RetrieveError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка получения списка файлов",
		}
	}

	total, err := s.repo.Count(ctx, filters)
	if err != nil {
		s.logger.Error("Ошибка подсчёта файлов", slog.String("error", err.Error()))
		return nil, &RetrieveError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка получения списка файлов",
		}
	}

	return &ListResult{
		Files:  files,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// getActive возвращает запись по id, если она существует и активна.
// Для API неактивная запись неотличима от несуществующей.
func (s *RetrieveService) getActive(ctx context.Context, fileID string) (*model.FileRecord, *RetrieveError) {
	record, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &RetrieveError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    fmt.Sprintf("Файл %s не найден", fileID),
			}
		}
		s.logger.Error("Ошибка получения записи файла",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return nil, &RetrieveError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка получения записи файла",
		}
	}

	if !record.Active {
		return nil, &RetrieveError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("Файл %s не найден", fileID),
		}
	}

	return record, nil
}
