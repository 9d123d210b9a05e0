// Пакет model — доменные модели File Vault.
// FileRecord — единая структура метаданных файла, используется
// сервисным слоем и репозиторием PostgreSQL.
package model

import (
	"fmt"
	"time"
)

// FileCategory — категория файла. Определяет поддиректорию хранения.
type FileCategory string

const (
	// CategoryProfile — файлы профилей пользователей
	CategoryProfile FileCategory = "profile"
	// CategoryDocument — документы
	CategoryDocument FileCategory = "document"
	// CategoryFormField — вложения полей форм
	CategoryFormField FileCategory = "form_field"
	// CategoryAttachment — прочие вложения
	CategoryAttachment FileCategory = "attachment"
	// CategoryOther — всё остальное
	CategoryOther FileCategory = "other"
)

// ParseCategory проверяет строку категории.
// Возвращает ошибку, если значение не входит в перечисление.
func ParseCategory(s string) (FileCategory, error) {
	switch FileCategory(s) {
	case CategoryProfile, CategoryDocument, CategoryFormField, CategoryAttachment, CategoryOther:
		return FileCategory(s), nil
	}
	return "", fmt.Errorf(
		"недопустимая категория %q, ожидается одна из: profile, document, form_field, attachment, other", s)
}

// EntityType — тип доменного объекта, которому принадлежит файл.
type EntityType string

const (
	// EntityUser — пользователь
	EntityUser EntityType = "user"
	// EntityApplication — заявка
	EntityApplication EntityType = "application"
	// EntityFormAnswer — ответ на форму
	EntityFormAnswer EntityType = "form_answer"
	// EntityInstitution — организация
	EntityInstitution EntityType = "institution"
	// EntityOther — прочее
	EntityOther EntityType = "other"
)

// ParseEntityType проверяет строку типа сущности.
// Пустая строка допустима — поле опциональное.
func ParseEntityType(s string) (EntityType, error) {
	if s == "" {
		return "", nil
	}
	switch EntityType(s) {
	case EntityUser, EntityApplication, EntityFormAnswer, EntityInstitution, EntityOther:
		return EntityType(s), nil
	}
	return "", fmt.Errorf(
		"недопустимый тип сущности %q, ожидается один из: user, application, form_answer, institution, other", s)
}

// FileRecord — метаданные одного загруженного файла.
// Опциональные текстовые поля хранятся как пустая строка ("" = не задано),
// в БД — колонки NOT NULL DEFAULT ''.
type FileRecord struct {
	// ID — уникальный идентификатор записи (UUID v4)
	ID string `json:"id"`

	// OriginalFilename — оригинальное имя файла при загрузке.
	// Не доверяем: используется только для отображения и Content-Disposition,
	// никогда — для построения путей на диске.
	OriginalFilename string `json:"original_filename"`

	// StoredFilename — сгенерированное имя файла на диске: {uuid}{ext}.
	// Уникально среди всех записей, включая неактивные.
	StoredFilename string `json:"stored_filename"`

	// Mimetype — MIME-тип, заявленный клиентом (не определяется по содержимому)
	Mimetype string `json:"mimetype"`

	// Size — размер файла в байтах, измеренный при загрузке
	Size int64 `json:"size"`

	// Category — категория файла, определяет поддиректорию хранения
	Category FileCategory `json:"category"`

	// EntityType — тип владеющего доменного объекта (опционально)
	EntityType EntityType `json:"entity_type,omitempty"`

	// EntityID — идентификатор владеющего объекта (опционально,
	// осмыслен только вместе с EntityType, FK не проверяется)
	EntityID string `json:"entity_id,omitempty"`

	// Path — относительный путь хранения: {поддиректория}/{stored_filename}.
	// Всегда вычисляется из Category и StoredFilename, никогда не задаётся извне.
	Path string `json:"path"`

	// ThumbnailPath — относительный путь миниатюры ("" = миниатюры нет).
	// Заполняется только при успешной генерации во время загрузки.
	ThumbnailPath string `json:"thumbnail_path,omitempty"`

	// UploadedBy — идентификатор загрузившего пользователя (опционально)
	UploadedBy string `json:"uploaded_by,omitempty"`

	// Description — описание файла (опционально)
	Description string `json:"description,omitempty"`

	// Metadata — произвольные ключ-значение аннотации (опционально, JSONB)
	Metadata map[string]string `json:"metadata,omitempty"`

	// Active — true: файл доступен; false: soft-deleted
	Active bool `json:"active"`

	// UploadedAt — дата и время загрузки (UTC)
	UploadedAt time.Time `json:"uploaded_at"`

	// UpdatedAt — дата и время последнего изменения записи (UTC)
	UpdatedAt time.Time `json:"updated_at"`
}

// HasThumbnail проверяет, была ли сгенерирована миниатюра.
func (f *FileRecord) HasThumbnail() bool {
	return f.ThumbnailPath != ""
}

// IsImage проверяет, является ли файл изображением по заявленному MIME-типу.
func (f *FileRecord) IsImage() bool {
	return IsImageMimetype(f.Mimetype)
}

// IsImageMimetype проверяет, относится ли MIME-тип к изображениям.
func IsImageMimetype(mimetype string) bool {
	return len(mimetype) > 6 && mimetype[:6] == "image/"
}
