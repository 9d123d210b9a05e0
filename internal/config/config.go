// Пакет config — загрузка и валидация конфигурации File Vault
// из переменных окружения. Все параметры имеют значения по умолчанию:
// процесс стартует без единой заданной переменной.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// defaultAllowedTypes — встроенный allow-list MIME-типов.
// Используется, если FV_ALLOWED_TYPES не задана.
var defaultAllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/plain",
	"text/csv",
}

// Config содержит все параметры конфигурации File Vault.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Корневая директория дерева хранения файлов
	StorageRoot string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64
	// Allow-list MIME-типов (закрытый список)
	AllowedTypes []string
	// Ширина миниатюры в пикселях
	ThumbWidth int
	// Высота миниатюры в пикселях
	ThumbHeight int
	// Качество JPEG миниатюры (1-100)
	ThumbQuality int
	// Интервал фоновой сверки метаданных с диском (0 = отключена)
	CleanupInterval time.Duration
	// API-ключ для аутентификации запросов ("" = аутентификация отключена)
	APIKey string
	// Базовый URL сервиса для построения ссылок в ответах
	// ("" = относительные URL)
	BaseURL string

	// Параметры подключения к PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения,
// валидирует значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// FV_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("FV_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FV_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FV_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// FV_STORAGE_ROOT — корень хранилища (по умолчанию ./uploads)
	cfg.StorageRoot = getEnvDefault("FV_STORAGE_ROOT", "./uploads")

	// FV_MAX_UPLOAD_SIZE — максимальный размер файла (по умолчанию 10 MB)
	cfg.MaxUploadSize, err = getEnvInt64("FV_MAX_UPLOAD_SIZE", 10485760)
	if err != nil {
		return nil, fmt.Errorf("FV_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("FV_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}

	// FV_ALLOWED_TYPES — allow-list MIME-типов через запятую
	if raw := os.Getenv("FV_ALLOWED_TYPES"); raw != "" {
		for _, mt := range strings.Split(raw, ",") {
			mt = strings.TrimSpace(mt)
			if mt != "" {
				cfg.AllowedTypes = append(cfg.AllowedTypes, mt)
			}
		}
		if len(cfg.AllowedTypes) == 0 {
			return nil, fmt.Errorf("FV_ALLOWED_TYPES: список не содержит ни одного типа")
		}
	} else {
		cfg.AllowedTypes = append(cfg.AllowedTypes, defaultAllowedTypes...)
	}

	// FV_THUMB_WIDTH / FV_THUMB_HEIGHT — размеры миниатюры (по умолчанию 200x200)
	cfg.ThumbWidth, err = getEnvInt("FV_THUMB_WIDTH", 200)
	if err != nil {
		return nil, fmt.Errorf("FV_THUMB_WIDTH: %w", err)
	}
	cfg.ThumbHeight, err = getEnvInt("FV_THUMB_HEIGHT", 200)
	if err != nil {
		return nil, fmt.Errorf("FV_THUMB_HEIGHT: %w", err)
	}
	if cfg.ThumbWidth <= 0 || cfg.ThumbHeight <= 0 {
		return nil, fmt.Errorf("размеры миниатюры должны быть положительными: %dx%d",
			cfg.ThumbWidth, cfg.ThumbHeight)
	}

	// FV_THUMB_QUALITY — качество JPEG миниатюры (по умолчанию 80)
	cfg.ThumbQuality, err = getEnvInt("FV_THUMB_QUALITY", 80)
	if err != nil {
		return nil, fmt.Errorf("FV_THUMB_QUALITY: %w", err)
	}
	if cfg.ThumbQuality < 1 || cfg.ThumbQuality > 100 {
		return nil, fmt.Errorf("FV_THUMB_QUALITY: значение %d вне диапазона 1-100", cfg.ThumbQuality)
	}

	// FV_CLEANUP_INTERVAL — интервал фоновой сверки (по умолчанию 0 = отключена)
	cfg.CleanupInterval, err = getEnvDuration("FV_CLEANUP_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("FV_CLEANUP_INTERVAL: %w", err)
	}

	// FV_API_KEY — API-ключ (по умолчанию пусто: аутентификация отключена)
	cfg.APIKey = getEnvDefault("FV_API_KEY", "")

	// FV_BASE_URL — базовый URL для ссылок в ответах (по умолчанию пусто)
	cfg.BaseURL = strings.TrimRight(getEnvDefault("FV_BASE_URL", ""), "/")

	// FV_DB_* — подключение к PostgreSQL
	cfg.DBHost = getEnvDefault("FV_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("FV_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FV_DB_PORT: %w", err)
	}
	cfg.DBUser = getEnvDefault("FV_DB_USER", "filevault")
	cfg.DBPassword = getEnvDefault("FV_DB_PASSWORD", "filevault")
	cfg.DBName = getEnvDefault("FV_DB_NAME", "filevault")
	cfg.DBSSLMode = getEnvDefault("FV_DB_SSL_MODE", "disable")

	// FV_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FV_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FV_LOG_LEVEL: %w", err)
	}

	// FV_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FV_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FV_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// Таймауты HTTP-сервера
	cfg.HTTPReadTimeout, err = getEnvDuration("FV_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("FV_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("FV_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("FV_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN формирует строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 5m, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
