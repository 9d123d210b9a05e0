package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/gofilevault/internal/domain/model"
)

// FileRepository — интерфейс хранилища метаданных файлов.
type FileRepository interface {
	// Create создаёт новую запись файла.
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByID возвращает запись по id независимо от active.
	// Проверка active — ответственность сервисного слоя.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// List возвращает активные записи с фильтрацией и пагинацией,
	// упорядоченные по uploaded_at по убыванию.
	List(ctx context.Context, filters FileListFilters, limit, offset int) ([]*model.FileRecord, error)
	// Count возвращает полное количество активных записей под фильтрами,
	// независимо от limit/offset.
	Count(ctx context.Context, filters FileListFilters) (int, error)
	// All возвращает все записи, включая неактивные (для сверки).
	All(ctx context.Context) ([]*model.FileRecord, error)
	// SoftDelete помечает активную запись как неактивную.
	// Возвращает ErrNotFound, если активной записи с таким id нет.
	SoftDelete(ctx context.Context, id string) error
	// CountByActive возвращает количество записей по признаку active.
	CountByActive(ctx context.Context, active bool) (int, error)
}

// FileListFilters — фильтры списка файлов. Все опциональны, объединяются по AND.
type FileListFilters struct {
	Category   *string
	EntityType *string
	EntityID   *string
	UploadedBy *string
}

// fileColumns — список колонок таблицы files в порядке сканирования.
const fileColumns = `id, original_filename, stored_filename, mimetype, size, category,
		entity_type, entity_id, path, thumbnail_path, uploaded_by, description,
		metadata, active, uploaded_at, updated_at`

// fileRepo — реализация FileRepository поверх pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файловых метаданных.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO files (id, original_filename, stored_filename, mimetype, size, category,
			entity_type, entity_id, path, thumbnail_path, uploaded_by, description, metadata, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING uploaded_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		f.ID, f.OriginalFilename, f.StoredFilename, f.Mimetype, f.Size, string(f.Category),
		string(f.EntityType), f.EntityID, f.Path, f.ThumbnailPath, f.UploadedBy, f.Description,
		f.Metadata, f.Active,
	).Scan(&f.UploadedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с таким идентификатором уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`

	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// buildFileWhere строит WHERE-условие и аргументы для фильтрации файлов.
// Условие active = TRUE добавляется всегда: неактивные записи не видны
// ни одному пути чтения, кроме полного скана All.
func buildFileWhere(filters FileListFilters, startArg int) (string, []any) {
	conditions := []string{"active = TRUE"}
	var args []any
	argNum := startArg

	if filters.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argNum))
		args = append(args, *filters.Category)
		argNum++
	}
	if filters.EntityType != nil {
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", argNum))
		args = append(args, *filters.EntityType)
		argNum++
	}
	if filters.EntityID != nil {
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", argNum))
		args = append(args, *filters.EntityID)
		argNum++
	}
	if filters.UploadedBy != nil {
		conditions = append(conditions, fmt.Sprintf("uploaded_by = $%d", argNum))
		args = append(args, *filters.UploadedBy)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *fileRepo) List(ctx context.Context, filters FileListFilters, limit, offset int) ([]*model.FileRecord, error) {
	where, args := buildFileWhere(filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT `+fileColumns+`
		FROM files
		%s
		ORDER BY uploaded_at DESC
		LIMIT $%d OFFSET $%d`, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	return collectFiles(rows)
}

func (r *fileRepo) Count(ctx context.Context, filters FileListFilters) (int, error) {
	where, args := buildFileWhere(filters, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM files %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

func (r *fileRepo) All(ctx context.Context) ([]*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files ORDER BY uploaded_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка полного скана файлов: %w", err)
	}
	defer rows.Close()

	return collectFiles(rows)
}

func (r *fileRepo) SoftDelete(ctx context.Context, id string) error {
	query := `
		UPDATE files
		SET active = FALSE, updated_at = now()
		WHERE id = $1 AND active = TRUE`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) CountByActive(ctx context.Context, active bool) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM files WHERE active = $1`, active).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

// scanFile сканирует одну строку в FileRecord.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	var category, entityType string
	err := row.Scan(
		&f.ID, &f.OriginalFilename, &f.StoredFilename, &f.Mimetype, &f.Size, &category,
		&entityType, &f.EntityID, &f.Path, &f.ThumbnailPath, &f.UploadedBy, &f.Description,
		&f.Metadata, &f.Active, &f.UploadedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Category = model.FileCategory(category)
	f.EntityType = model.EntityType(entityType)
	return f, nil
}

// collectFiles сканирует все строки результата в срез FileRecord.
func collectFiles(rows pgx.Rows) ([]*model.FileRecord, error) {
	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}
