package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/gofilevault/internal/config"
	"github.com/bigkaa/gofilevault/internal/domain/model"
	"github.com/bigkaa/gofilevault/internal/repository"
	"github.com/bigkaa/gofilevault/internal/service"
	"github.com/bigkaa/gofilevault/internal/storage/blob"
	"github.com/bigkaa/gofilevault/internal/storage/layout"
	"github.com/bigkaa/gofilevault/internal/storage/thumbnail"
)

// fakeFileRepo — репозиторий в памяти для тестов handlers.
// Повторяет контракт FileRepository, включая семантику SoftDelete
// (повторное удаление — ErrNotFound).
type fakeFileRepo struct {
	mu      sync.Mutex
	records map[string]*model.FileRecord
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{records: make(map[string]*model.FileRecord)}
}

func (r *fakeFileRepo) Create(_ context.Context, f *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	f.UploadedAt = now
	f.UpdatedAt = now
	cp := *f
	r.records[f.ID] = &cp
	return nil
}

func (r *fakeFileRepo) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *fakeFileRepo) List(_ context.Context, filters repository.FileListFilters, limit, offset int) ([]*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := r.match(filters)
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UploadedAt.After(matched[j].UploadedAt)
	})
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *fakeFileRepo) Count(_ context.Context, filters repository.FileListFilters) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.match(filters)), nil
}

func (r *fakeFileRepo) All(_ context.Context) ([]*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.FileRecord
	for _, f := range r.records {
		cp := *f
		result = append(result, &cp)
	}
	return result, nil
}

func (r *fakeFileRepo) SoftDelete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.records[id]
	if !ok || !f.Active {
		return repository.ErrNotFound
	}
	f.Active = false
	f.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeFileRepo) CountByActive(_ context.Context, active bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.records {
		if f.Active == active {
			n++
		}
	}
	return n, nil
}

func (r *fakeFileRepo) match(filters repository.FileListFilters) []*model.FileRecord {
	var result []*model.FileRecord
	for _, f := range r.records {
		if !f.Active {
			continue
		}
		if filters.Category != nil && string(f.Category) != *filters.Category {
			continue
		}
		if filters.EntityType != nil && string(f.EntityType) != *filters.EntityType {
			continue
		}
		if filters.EntityID != nil && f.EntityID != *filters.EntityID {
			continue
		}
		if filters.UploadedBy != nil && f.UploadedBy != *filters.UploadedBy {
			continue
		}
		cp := *f
		result = append(result, &cp)
	}
	return result
}

// testLogger — slog-логгер, пишущий в никуда.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRouter собирает полный стек файловых endpoints поверх t.TempDir():
// blob store, сервисы, StorageHandler и chi-маршруты как в боевом сервере.
func newTestRouter(t *testing.T) (*chi.Mux, *fakeFileRepo, *blob.Store) {
	t.Helper()

	root := t.TempDir()
	if err := layout.Ensure(root); err != nil {
		t.Fatalf("layout.Ensure: %v", err)
	}
	store, err := blob.New(root)
	if err != nil {
		t.Fatalf("blob.New: %v", err)
	}

	cfg := &config.Config{
		MaxUploadSize: 1 << 20, // 1 MB
		AllowedTypes:  []string{"image/png", "image/jpeg", "application/pdf", "text/plain"},
		ThumbWidth:    64,
		ThumbHeight:   64,
		ThumbQuality:  80,
		BaseURL:       "http://localhost:8080",
	}

	logger := testLogger()
	repo := newFakeFileRepo()
	thumbs := thumbnail.New(cfg.ThumbWidth, cfg.ThumbHeight, cfg.ThumbQuality)
	ingestSvc := service.NewIngestService(cfg, store, thumbs, repo, logger)
	retrieveSvc := service.NewRetrieveService(store, repo, logger)

	h := NewStorageHandler(cfg, ingestSvc, retrieveSvc, repo)

	router := chi.NewRouter()
	router.Route("/storage", func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Get("/download/{id}", h.Download)
		r.Get("/view/{id}", h.View)
		r.Get("/thumbnail/{id}", h.Thumbnail)
		r.Get("/metadata/{id}", h.Metadata)
		r.Get("/list", h.List)
		r.Delete("/{id}", h.Delete)
	})

	return router, repo, store
}

// makePNG генерирует PNG заданного размера.
func makePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Ошибка кодирования тестового PNG: %v", err)
	}
	return buf.Bytes()
}

// multipartUpload строит multipart-запрос POST /storage/upload.
func multipartUpload(t *testing.T, filename, contentType string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	header["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("Ошибка создания части file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("Ошибка записи части file: %v", err)
	}

	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("Ошибка записи поля %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Ошибка закрытия multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/storage/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// uploadFile выполняет загрузку и возвращает декодированный ответ.
func uploadFile(t *testing.T, router http.Handler, filename, contentType string, data []byte, fields map[string]string) map[string]any {
	t.Helper()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, filename, contentType, data, fields))
	if rec.Code != http.StatusCreated {
		t.Fatalf("хотели статус 201, получили %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Ошибка декодирования ответа: %v", err)
	}
	return resp
}

// errorCode извлекает машиночитаемый код из тела ошибки.
func errorCode(t *testing.T, body []byte) string {
	t.Helper()

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Ошибка декодирования тела ошибки: %v", err)
	}
	return resp.Error.Code
}

func TestUpload_Image(t *testing.T) {
	router, _, _ := newTestRouter(t)

	resp := uploadFile(t, router, "photo.png", "image/png", makePNG(t, 400, 300), map[string]string{
		"category":   "profile",
		"entityType": "user",
		"entityId":   "user-1",
		"uploadedBy": "user-1",
		"metadata":   `{"source":"camera"}`,
	})

	if resp["id"] == "" {
		t.Error("В ответе нет id")
	}
	if resp["originalFilename"] != "photo.png" {
		t.Errorf("хотели originalFilename photo.png, получили %v", resp["originalFilename"])
	}
	if resp["storedFilename"] == nil || resp["storedFilename"] == "" {
		t.Error("В ответе нет storedFilename")
	}
	if resp["hasThumbnail"] != true {
		t.Error("Для PNG ожидалась миниатюра")
	}
	if resp["thumbnailUrl"] == nil || resp["thumbnailUrl"] == "" {
		t.Error("В ответе нет thumbnailUrl")
	}
	wantURL := "http://localhost:8080/storage/download/" + resp["id"].(string)
	if resp["downloadUrl"] != wantURL {
		t.Errorf("хотели downloadUrl %s, получили %v", wantURL, resp["downloadUrl"])
	}
	meta, ok := resp["metadata"].(map[string]any)
	if !ok || meta["source"] != "camera" {
		t.Errorf("metadata не сохранилась: %v", resp["metadata"])
	}
	// Внутренний путь на диске не должен попадать в API-ответ
	if _, ok := resp["path"]; ok {
		t.Error("Внутренний path попал в ответ")
	}
}

func TestUpload_NonImageNullThumbnailURL(t *testing.T) {
	router, _, _ := newTestRouter(t)

	resp := uploadFile(t, router, "doc.pdf", "application/pdf", []byte("%PDF-1.4"),
		map[string]string{"category": "document"})

	if resp["hasThumbnail"] != false {
		t.Error("Для PDF миниатюра не ожидалась")
	}
	url, present := resp["thumbnailUrl"]
	if !present {
		t.Fatal("Поле thumbnailUrl должно присутствовать")
	}
	if url != nil {
		t.Errorf("хотели thumbnailUrl null, получили %v", url)
	}
}

func TestUpload_ValidationErrors(t *testing.T) {
	router, _, _ := newTestRouter(t)

	tests := []struct {
		name       string
		request    func(t *testing.T) *http.Request
		wantStatus int
		wantCode   string
	}{
		{
			name: "отсутствует поле file",
			request: func(t *testing.T) *http.Request {
				var body bytes.Buffer
				mw := multipart.NewWriter(&body)
				_ = mw.WriteField("category", "document")
				_ = mw.Close()
				req := httptest.NewRequest(http.MethodPost, "/storage/upload", &body)
				req.Header.Set("Content-Type", mw.FormDataContentType())
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name: "недопустимая категория",
			request: func(t *testing.T) *http.Request {
				return multipartUpload(t, "a.txt", "text/plain", []byte("hi"),
					map[string]string{"category": "bogus"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name: "некорректный JSON metadata",
			request: func(t *testing.T) *http.Request {
				return multipartUpload(t, "a.txt", "text/plain", []byte("hi"),
					map[string]string{"category": "document", "metadata": "{не json"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name: "MIME-тип вне allow-list",
			request: func(t *testing.T) *http.Request {
				return multipartUpload(t, "v.mp4", "video/mp4", []byte("data"),
					map[string]string{"category": "attachment"})
			},
			wantStatus: http.StatusUnsupportedMediaType,
			wantCode:   "UNSUPPORTED_MEDIA_TYPE",
		},
		{
			name: "файл больше лимита",
			request: func(t *testing.T) *http.Request {
				big := bytes.Repeat([]byte("x"), (1<<20)+1)
				return multipartUpload(t, "big.txt", "text/plain", big,
					map[string]string{"category": "document"})
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "PAYLOAD_TOO_LARGE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, tt.request(t))

			if rec.Code != tt.wantStatus {
				t.Errorf("хотели статус %d, получили %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if code := errorCode(t, rec.Body.Bytes()); code != tt.wantCode {
				t.Errorf("хотели код %s, получили %s", tt.wantCode, code)
			}
		})
	}
}

func TestDownloadAndView(t *testing.T) {
	router, _, _ := newTestRouter(t)

	content := []byte("содержимое документа")
	resp := uploadFile(t, router, "doc.txt", "text/plain", content,
		map[string]string{"category": "document"})
	id := resp["id"].(string)

	// Download: attachment с оригинальным именем
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/storage/download/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("хотели статус 200, получили %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Error("Содержимое файла не совпадает с загруженным")
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="doc.txt"` {
		t.Errorf("хотели attachment disposition, получили %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/plain" {
		t.Errorf("хотели Content-Type text/plain, получили %q", got)
	}

	// View: inline
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/storage/view/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("хотели статус 200, получили %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `inline; filename="doc.txt"` {
		t.Errorf("хотели inline disposition, получили %q", got)
	}
}

func TestDownload_NotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/storage/download/00000000-0000-0000-0000-000000000000", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("хотели статус 404, получили %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "NOT_FOUND" {
		t.Errorf("хотели код NOT_FOUND, получили %s", code)
	}
}

func TestThumbnail(t *testing.T) {
	router, _, _ := newTestRouter(t)

	resp := uploadFile(t, router, "photo.png", "image/png", makePNG(t, 300, 200),
		map[string]string{"category": "profile"})
	id := resp["id"].(string)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/storage/thumbnail/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("хотели статус 200, получили %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("хотели Content-Type image/jpeg, получили %q", got)
	}
}

func TestThumbnail_AbsentForNonImage(t *testing.T) {
	router, _, _ := newTestRouter(t)

	resp := uploadFile(t, router, "doc.pdf", "application/pdf", []byte("%PDF-1.4"),
		map[string]string{"category": "document"})
	id := resp["id"].(string)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/storage/thumbnail/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("хотели статус 404 для файла без миниатюры, получили %d", rec.Code)
	}
}

func TestMetadata(t *testing.T) {
	router, _, _ := newTestRouter(t)

	resp := uploadFile(t, router, "doc.txt", "text/plain", []byte("hi"),
		map[string]string{"category": "document", "description": "отчёт"})
	id := resp["id"].(string)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/storage/metadata/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("хотели статус 200, получили %d", rec.Code)
	}

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Ошибка декодирования: %v", err)
	}
	if got["id"] != id {
		t.Errorf("хотели id %s, получили %v", id, got["id"])
	}
	if got["description"] != "отчёт" {
		t.Errorf("хотели description 'отчёт', получили %v", got["description"])
	}
}

func TestList(t *testing.T) {
	router, _, _ := newTestRouter(t)

	uploadFile(t, router, "a.txt", "text/plain", []byte("a"),
		map[string]string{"category": "document"})
	uploadFile(t, router, "b.txt", "text/plain", []byte("b"),
		map[string]string{"category": "document"})
	uploadFile(t, router, "c.png", "image/png", makePNG(t, 50, 50),
		map[string]string{"category": "profile"})

	// Без фильтров
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/storage/list", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("хотели статус 200, получили %d", rec.Code)
	}
	var page struct {
		Data   []map[string]any `json:"data"`
		Total  int              `json:"total"`
		Limit  int              `json:"limit"`
		Offset int              `json:"offset"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("Ошибка декодирования: %v", err)
	}
	if page.Total != 3 || len(page.Data) != 3 {
		t.Errorf("хотели 3 файла, получили total=%d data=%d", page.Total, len(page.Data))
	}
	if page.Limit != 50 || page.Offset != 0 {
		t.Errorf("хотели limit=50 offset=0, получили limit=%d offset=%d", page.Limit, page.Offset)
	}

	// Фильтр по категории
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/storage/list?category=document", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("Ошибка декодирования: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("хотели 2 документа, получили %d", page.Total)
	}

	// Пагинация: total не зависит от limit
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/storage/list?limit=2", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("Ошибка декодирования: %v", err)
	}
	if len(page.Data) != 2 || page.Total != 3 {
		t.Errorf("хотели страницу 2 из 3, получили data=%d total=%d", len(page.Data), page.Total)
	}
}

func TestList_InvalidParams(t *testing.T) {
	router, _, _ := newTestRouter(t)

	tests := []struct {
		name string
		url  string
	}{
		{"limit ноль", "/storage/list?limit=0"},
		{"limit слишком большой", "/storage/list?limit=1001"},
		{"limit не число", "/storage/list?limit=abc"},
		{"offset отрицательный", "/storage/list?offset=-1"},
		{"недопустимая категория", "/storage/list?category=bogus"},
		{"недопустимый тип сущности", "/storage/list?entityType=bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("хотели статус 400, получили %d", rec.Code)
			}
			if code := errorCode(t, rec.Body.Bytes()); code != "VALIDATION_ERROR" {
				t.Errorf("хотели код VALIDATION_ERROR, получили %s", code)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	router, repo, store := newTestRouter(t)

	resp := uploadFile(t, router, "doc.txt", "text/plain", []byte("hi"),
		map[string]string{"category": "document"})
	id := resp["id"].(string)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/storage/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("хотели статус 200, получили %d", rec.Code)
	}
	var confirm struct {
		ID      string `json:"id"`
		Deleted bool   `json:"deleted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &confirm); err != nil {
		t.Fatalf("Ошибка декодирования подтверждения: %v", err)
	}
	if confirm.ID != id || !confirm.Deleted {
		t.Errorf("хотели подтверждение удаления %s, получили %+v", id, confirm)
	}

	// Запись осталась, но деактивирована
	record, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("Запись пропала после мягкого удаления: %v", err)
	}
	if record.Active {
		t.Error("Запись осталась активной после удаления")
	}

	// Мягкое удаление: блоб остаётся на диске
	if !store.Exists(record.Path) {
		t.Error("Блоб удалён с диска при мягком удалении")
	}

	// Скачивание удалённого файла — 404
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/storage/download/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("хотели статус 404 после удаления, получили %d", rec.Code)
	}

	// Повторное удаление неотличимо от несуществующего файла
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/storage/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("хотели статус 404 при повторном удалении, получили %d", rec.Code)
	}
}

var _ repository.FileRepository = (*fakeFileRepo)(nil)
