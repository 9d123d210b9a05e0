// auth.go — middleware аутентификации по API-ключу.
// Клиент передаёт ключ в заголовке X-API-Key, сравнение —
// за константное время. Пустой настроенный ключ отключает
// аутентификацию целиком (режим разработки).
// Публичные endpoints (health, metrics) — без аутентификации.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/gofilevault/internal/api/errors"
)

// APIKeyHeader — заголовок с API-ключом.
const APIKeyHeader = "X-API-Key"

// publicPrefixes — пути, доступные без аутентификации.
var publicPrefixes = []string{
	"/health/",
	"/metrics",
}

// APIKeyAuth — middleware аутентификации по статическому API-ключу.
type APIKeyAuth struct {
	key    []byte
	logger *slog.Logger
}

// NewAPIKeyAuth создаёт middleware аутентификации.
// Пустой key означает, что аутентификация отключена.
func NewAPIKeyAuth(key string, logger *slog.Logger) *APIKeyAuth {
	if key == "" {
		logger.Warn("FV_API_KEY не задан: аутентификация отключена")
	}
	return &APIKeyAuth{
		key:    []byte(key),
		logger: logger.With(slog.String("component", "api_key_auth")),
	}
}

// Enabled возвращает true, если аутентификация включена.
func (a *APIKeyAuth) Enabled() bool {
	return len(a.key) > 0
}

// Middleware возвращает HTTP middleware аутентификации.
// Сравнение ключей через subtle.ConstantTimeCompare,
// чтобы исключить timing-атаки.
func (a *APIKeyAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() || isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get(APIKeyHeader)
			if provided == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок "+APIKeyHeader)
				return
			}

			if subtle.ConstantTimeCompare([]byte(provided), a.key) != 1 {
				a.logger.Debug("Неверный API-ключ",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("path", r.URL.Path),
				)
				apierrors.Unauthorized(w, "Неверный API-ключ")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isPublicPath проверяет, относится ли путь к публичным endpoint'ам.
func isPublicPath(path string) bool {
	for _, prefix := range publicPrefixes {
		if path == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
