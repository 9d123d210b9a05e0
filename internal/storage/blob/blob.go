// Пакет blob — операции с физическими файлами на дереве хранения.
// Запись через temp-файл с fsync и атомарным rename, чтение, удаление.
// Все пути — относительные (разделитель "/"), корень задаётся при создании.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// Store — доступ к файлам на диске относительно корня хранилища.
type Store struct {
	// root — корневая директория дерева хранения (FV_STORAGE_ROOT)
	root string
}

// New создаёт Store. Проверяет и создаёт корневую директорию,
// если она не существует. Поддиректории схемы создаёт layout.Ensure.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать корень хранилища %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Write записывает буфер данных по относительному пути.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется. Это точка долговечности:
// после успешного Write файл либо полностью записан, либо отсутствует.
func (s *Store) Write(relPath string, data []byte) error {
	fullPath := s.FullPath(relPath)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает файл целиком по относительному пути.
func (s *Store) Read(relPath string) ([]byte, error) {
	data, err := os.ReadFile(s.FullPath(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s", relPath)
		}
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", relPath, err)
	}
	return data, nil
}

// Open открывает файл для чтения (нужен io.ReadSeeker для http.ServeContent).
// Закрыть файл — обязанность вызывающего.
func (s *Store) Open(relPath string) (*os.File, error) {
	f, err := os.Open(s.FullPath(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s", relPath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", relPath, err)
	}
	return f, nil
}

// Delete удаляет файл с диска.
// Возвращает nil, если файл уже не существует.
func (s *Store) Delete(relPath string) error {
	err := os.Remove(s.FullPath(relPath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", relPath, err)
	}
	return nil
}

// Exists проверяет существование файла на диске.
func (s *Store) Exists(relPath string) bool {
	_, err := os.Stat(s.FullPath(relPath))
	return err == nil
}

// Size возвращает размер файла на диске.
func (s *Store) Size(relPath string) (int64, error) {
	info, err := os.Stat(s.FullPath(relPath))
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", relPath, err)
	}
	return info.Size(), nil
}

// ListDir возвращает имена обычных файлов в поддиректории хранилища.
// Несуществующая поддиректория трактуется как пустая.
func (s *Store) ListDir(relDir string) ([]string, error) {
	entries, err := os.ReadDir(s.FullPath(relDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", relDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (s *Store) FullPath(relPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(relPath))
}

// Root возвращает путь к корню хранилища.
func (s *Store) Root() string {
	return s.root
}

// DiskUsage возвращает информацию о дисковом пространстве
// файловой системы, на которой расположен корень хранилища.
// Платформозависимый код для Unix-подобных систем.
func (s *Store) DiskUsage() (total, used, available int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.root, &stat); err != nil {
		return 0, 0, 0, fmt.Errorf("ошибка statfs %s: %w", s.root, err)
	}

	total = int64(stat.Blocks) * int64(stat.Bsize)
	available = int64(stat.Bavail) * int64(stat.Bsize)
	used = total - available

	return total, used, available, nil
}
