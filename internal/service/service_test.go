package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/gofilevault/internal/domain/model"
	"github.com/bigkaa/gofilevault/internal/repository"
)

// fakeFileRepo — репозиторий в памяти для тестов сервисного слоя.
// Интеграционные тесты реального репозитория — в пакете repository.
type fakeFileRepo struct {
	mu      sync.Mutex
	records map[string]*model.FileRecord

	// failCreate — имитация ошибки БД при Create
	failCreate bool
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{records: make(map[string]*model.FileRecord)}
}

func (r *fakeFileRepo) Create(_ context.Context, f *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return errors.New("имитация ошибки БД")
	}
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

// match возвращает копии активных записей под фильтрами.
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
