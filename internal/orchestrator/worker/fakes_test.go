package worker

import (
	"bytes"
	"context"
	"fmt"
	"keywords/internal/cache"
	"keywords/internal/database"
	"keywords/internal/model"
	"keywords/internal/orchestrator"
	"keywords/internal/storage"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeStore is an in-memory Store with the same compare-and-set rules as the mongo implementation
type fakeStore struct {
	mu       sync.Mutex
	works    map[string]*model.Work
	rows     map[string]map[int]model.Row
	rate     int64
	catalog  map[string]string
	keywords map[string][]model.CategoryKeyword

	failUpdateRow error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		works:    make(map[string]*model.Work),
		rows:     make(map[string]map[int]model.Row),
		catalog:  make(map[string]string),
		keywords: make(map[string][]model.CategoryKeyword),
	}
}

func (s *fakeStore) CreateWork(ctx context.Context, work *model.Work) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if work.ID.IsZero() {
		work.ID = primitive.NewObjectID()
	}
	cp := *work
	s.works[work.ID.Hex()] = &cp
	return nil
}

func (s *fakeStore) GetWork(ctx context.Context, id string) (*model.Work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.works[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", database.ErrJobNotFound, id)
	}
	cp := *w
	return &cp, nil
}

func (s *fakeStore) ListWorks(ctx context.Context, limit, offset int) ([]*model.Work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Work, 0, len(s.works))
	for _, w := range s.works {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) ClaimWork(ctx context.Context, id string) (*model.Work, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.works[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", database.ErrJobNotFound, id)
	}

	claimed := false
	switch {
	case w.Status == model.WorkWaiting:
		now := time.Now()
		w.Status = model.WorkInProgress
		w.StartedAt = &now
		w.RetryPending = false
		claimed = true
	case w.Status == model.WorkInProgress && w.RetryPending:
		w.RetryPending = false
		claimed = true
	}

	cp := *w
	return &cp, claimed, nil
}

func (s *fakeStore) TransitionWork(ctx context.Context, id string, from []model.WorkStatus, to model.WorkStatus, outputFilename string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.works[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", database.ErrJobNotFound, id)
	}

	for _, f := range from {
		if w.Status == f {
			w.Status = to
			w.RetryPending = false
			if outputFilename != "" {
				w.OutputFilename = outputFilename
			}
			if to.Terminal() {
				now := time.Now()
				w.EndedAt = &now
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) SetCheckpoint(ctx context.Context, id string, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.works[id]; ok {
		w.Checkpoint = checkpoint
	}
	return nil
}

func (s *fakeStore) MarkRetryPending(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.works[id]; ok && w.Status == model.WorkInProgress {
		w.RetryPending = true
	}
	return nil
}

func (s *fakeStore) setStatus(id string, status model.WorkStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.works[id].Status = status
}

func (s *fakeStore) UpsertRows(ctx context.Context, jobID string, rows []model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[jobID] == nil {
		s.rows[jobID] = make(map[int]model.Row)
	}
	for _, r := range rows {
		r.JobID = jobID
		s.rows[jobID][r.RowIndex] = r
	}
	return nil
}

func (s *fakeStore) ListRows(ctx context.Context, jobID string) ([]model.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Row, 0, len(s.rows[jobID]))
	for _, r := range s.rows[jobID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowIndex < out[j].RowIndex })
	return out, nil
}

func (s *fakeStore) UpdateRow(ctx context.Context, row *model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdateRow != nil {
		return s.failUpdateRow
	}
	s.rows[row.JobID][row.RowIndex] = *row
	return nil
}

func (s *fakeStore) IncrementRateCounter(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate++
	return s.rate, nil
}

func (s *fakeStore) FindCatalogID(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.catalog[path]
	if !ok {
		return "", database.ErrCatalogNotFound
	}
	return id, nil
}

func (s *fakeStore) ListCategoryKeywords(ctx context.Context, catalogID string) ([]model.CategoryKeyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CategoryKeyword(nil), s.keywords[catalogID]...), nil
}

type categoryFunc func(ctx context.Context, productName string) (model.CategoryPath, error)

func (f categoryFunc) LookupCategory(ctx context.Context, productName string) (model.CategoryPath, error) {
	return f(ctx, productName)
}

type trademarkFunc func(ctx context.Context, keyword string) (int64, error)

func (f trademarkFunc) MatchCount(ctx context.Context, keyword string) (int64, error) {
	return f(ctx, keyword)
}

type harness struct {
	store    *fakeStore
	progress *cache.RedisProgressStore
	files    *storage.LocalFileStore
	registry *orchestrator.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	dir := t.TempDir()
	files, err := storage.NewLocalFileStore(dir+"/input", dir+"/result")
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	return &harness{
		store:    newFakeStore(),
		progress: cache.NewProgressStore(cache.NewRedisCacheFromClient(client, "test"), time.Hour),
		files:    files,
		registry: orchestrator.NewJobRegistry(),
	}
}

func (h *harness) worker(categories cache.CategoryLookup, trademarks TrademarkLookup) *KeywordWorker {
	return New(h.store, h.progress, h.files, categories, trademarks, h.registry, Options{
		MaxPhaseAttempts: 3,
		MaxCandidates:    5,
		Rand:             rand.New(rand.NewPCG(1, 2)),
	})
}

// submit stores an upload built from rows and creates the Waiting work and progress records
func (h *harness) submit(t *testing.T, rows [][]interface{}) *model.Work {
	t.Helper()
	ctx := context.Background()

	work := &model.Work{
		ID:             primitive.NewObjectID(),
		SourceFilename: "products.xlsx",
		DedupToken:     "2024_01_02__03_04_05__17__",
		Status:         model.WorkWaiting,
		CreatedAt:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	if rows != nil {
		if err := h.files.Put(ctx, storage.AreaInput, work.StoredName(), bytes.NewReader(workbook(t, rows))); err != nil {
			t.Fatalf("Put upload: %v", err)
		}
	}

	if err := h.store.CreateWork(ctx, work); err != nil {
		t.Fatalf("CreateWork: %v", err)
	}
	if err := h.progress.Create(ctx, model.Progress{JobID: work.ID.Hex(), Filename: work.SourceFilename}); err != nil {
		t.Fatalf("Create progress: %v", err)
	}
	return work
}

func message(work *model.Work, params model.ExtractParams) model.JobMessage {
	params = params.WithDefaults()
	return model.JobMessage{
		WorkID:         work.ID.Hex(),
		SellerCountMin: params.SellerCountMin,
		SellerCountMax: params.SellerCountMax,
		MinVolume:      params.MinVolume,
		UseTrademark:   params.UseTrademark,
	}
}

func workbook(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellName, _ := excelize.CoordinatesToCellName(1, i+1)
		r := row
		if err := f.SetSheetRow(sheet, cellName, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
