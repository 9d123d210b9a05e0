// Пакет layout — схема размещения файлов на диске.
// Отображает категорию файла в поддиректорию хранения, генерирует
// уникальные имена файлов и собирает относительные пути.
// Пути всегда относительные, с разделителем "/", без сегментов "..".
package layout

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bigkaa/gofilevault/internal/domain/model"
)

// Поддиректории корня хранилища.
const (
	// SubdirProfiles — файлы категории profile
	SubdirProfiles = "profiles"
	// SubdirDocuments — файлы категории document
	SubdirDocuments = "documents"
	// SubdirForms — файлы категории form_field
	SubdirForms = "forms"
	// SubdirThumbnails — миниатюры (фиксированная, не зависит от категории)
	SubdirThumbnails = "thumbnails"
	// SubdirTemp — все остальные категории (attachment, other, нераспознанные)
	SubdirTemp = "temp"
)

// ThumbPrefix — префикс имени файла миниатюры.
const ThumbPrefix = "thumb_"

// Subdir возвращает поддиректорию хранения для категории.
// Отображение тотально: любая категория разрешается ровно в одну
// поддиректорию, всё неотображённое попадает в temp.
func Subdir(category model.FileCategory) string {
	switch category {
	case model.CategoryProfile:
		return SubdirProfiles
	case model.CategoryDocument:
		return SubdirDocuments
	case model.CategoryFormField:
		return SubdirForms
	default:
		return SubdirTemp
	}
}

// StoredFilename генерирует уникальное имя файла для хранения на диске:
// {uuid}{ext}. Расширение берётся из оригинального имени как есть
// (включая случай отсутствия расширения). Оригинальное имя в путь
// никогда не попадает.
func StoredFilename(originalFilename string) string {
	ext := filepath.Ext(originalFilename)
	return uuid.New().String() + ext
}

// FilePath собирает относительный путь файла: {поддиректория}/{storedFilename}.
func FilePath(category model.FileCategory, storedFilename string) string {
	return path.Join(Subdir(category), storedFilename)
}

// ThumbFilename возвращает имя файла миниатюры: thumb_{storedFilename}.
func ThumbFilename(storedFilename string) string {
	return ThumbPrefix + storedFilename
}

// ThumbPath собирает относительный путь миниатюры в thumbnails/.
func ThumbPath(storedFilename string) string {
	return path.Join(SubdirThumbnails, ThumbFilename(storedFilename))
}

// Subdirs возвращает полный список поддиректорий схемы размещения.
func Subdirs() []string {
	return []string{SubdirProfiles, SubdirDocuments, SubdirForms, SubdirThumbnails, SubdirTemp}
}

// Ensure создаёт корень хранилища и все поддиректории схемы.
// Идемпотентна, вызывается один раз при старте процесса.
func Ensure(root string) error {
	for _, sub := range Subdirs() {
		dir := filepath.Join(root, sub)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
		}
	}
	return nil
}
