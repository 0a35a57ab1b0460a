package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"keywords/internal/cache"
	"keywords/internal/config"
	"keywords/internal/database"
	"keywords/internal/model"
	"keywords/internal/storage"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeWorks struct {
	mu    sync.Mutex
	works map[string]*model.Work
}

func (f *fakeWorks) CreateWork(ctx context.Context, work *model.Work) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *work
	f.works[work.ID.Hex()] = &cp
	return nil
}

func (f *fakeWorks) GetWork(ctx context.Context, id string) (*model.Work, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.works[id]
	if !ok {
		return nil, database.ErrJobNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeWorks) ListWorks(ctx context.Context, limit, offset int) ([]*model.Work, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.Work{}
	for _, w := range f.works {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeWorks) ClaimWork(ctx context.Context, id string) (*model.Work, bool, error) {
	return nil, false, errors.New("not used")
}

func (f *fakeWorks) TransitionWork(ctx context.Context, id string, from []model.WorkStatus, to model.WorkStatus, outputFilename string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.works[id]
	if !ok {
		return false, database.ErrJobNotFound
	}
	for _, s := range from {
		if w.Status == s {
			w.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeWorks) SetCheckpoint(ctx context.Context, id string, checkpoint model.Checkpoint) error {
	return nil
}

func (f *fakeWorks) MarkRetryPending(ctx context.Context, id string) error {
	return nil
}

type published struct {
	exchange, routingKey string
	body                 []byte
	headers              amqp.Table
}

type fakePublisher struct {
	err  error
	sent []published
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{exchange, routingKey, body, headers})
	return nil
}

type fixture struct {
	works     *fakeWorks
	progress  *cache.RedisProgressStore
	files     *storage.LocalFileStore
	publisher *fakePublisher
	jc        *jobController
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	dir := t.TempDir()
	files, err := storage.NewLocalFileStore(dir+"/input", dir+"/result")
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	f := &fixture{
		works:     &fakeWorks{works: make(map[string]*model.Work)},
		progress:  cache.NewProgressStore(cache.NewRedisCacheFromClient(client, "test"), time.Hour),
		files:     files,
		publisher: &fakePublisher{},
	}
	jc := NewJobController(f.works, f.progress, f.files, f.publisher, config.RabbitMQConfig{
		ExchangeName: "keyword-exchange",
		RoutingKey:   "keyword.extract.start",
	}, true).(*jobController)
	jc.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	jc.intN = func(int) int { return 42 }
	f.jc = jc
	return f
}

func sampleWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	f.SetSheetRow(sheet, "A1", &[]interface{}{"code", "name"})
	f.SetSheetRow(sheet, "A2", &[]interface{}{"P-1", "cotton shirt"})
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	work, err := f.jc.Submit(ctx, Upload{Filename: `C:\uploads\products.xlsx`, Data: sampleWorkbook(t)},
		model.ExtractParams{SellerCountMin: 10, SellerCountMax: 5, UseTrademark: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if work.SourceFilename != "products.xlsx" {
		t.Errorf("SourceFilename = %q", work.SourceFilename)
	}
	if work.DedupToken != "2024_05_06__07_08_09__42__" {
		t.Errorf("DedupToken = %q", work.DedupToken)
	}

	want := model.ExtractParams{SellerCountMin: 0, SellerCountMax: 5, MinVolume: 1000, UseTrademark: true}
	if work.Params != want {
		t.Errorf("Params = %+v, want %+v", work.Params, want)
	}

	rc, err := f.files.Open(ctx, storage.AreaInput, "2024_05_06__07_08_09__42__products.xlsx")
	if err != nil {
		t.Fatalf("stored upload: %v", err)
	}
	rc.Close()

	p, err := f.progress.Get(ctx, work.ID.Hex())
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.StatusCode != model.ProgressWaiting || p.Filename != "products.xlsx" {
		t.Errorf("progress = %+v", p)
	}

	if len(f.publisher.sent) != 1 {
		t.Fatalf("published %d messages, want 1", len(f.publisher.sent))
	}
	sent := f.publisher.sent[0]
	if sent.exchange != "keyword-exchange" || sent.routingKey != "keyword.extract.start" {
		t.Errorf("published to %s/%s", sent.exchange, sent.routingKey)
	}
	if sent.headers["job_id"] != work.ID.Hex() {
		t.Errorf("job_id header = %v", sent.headers["job_id"])
	}

	var msg model.JobMessage
	if err := json.Unmarshal(sent.body, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.WorkID != work.ID.Hex() || msg.Params() != want {
		t.Errorf("message = %+v", msg)
	}
}

func TestSubmitRejectsInvalidUploads(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
	}{
		{"unsupported extension", Upload{Filename: "products.csv", Data: []byte("a,b")}},
		{"unreadable workbook", Upload{Filename: "products.xlsx", Data: []byte("not a zip")}},
		{"no file name", Upload{Filename: "", Data: []byte("x")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.jc.Submit(context.Background(), tt.upload, model.ExtractParams{})
			if !errors.Is(err, ErrInvalidUpload) {
				t.Fatalf("err = %v, want ErrInvalidUpload", err)
			}
			if len(f.works.works) != 0 || len(f.publisher.sent) != 0 {
				t.Error("invalid upload created a job")
			}
		})
	}
}

func TestSubmitPublishFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	ctx := context.Background()

	_, err := f.jc.Submit(ctx, Upload{Filename: "products.xlsx", Data: sampleWorkbook(t)}, model.ExtractParams{})
	if err == nil {
		t.Fatal("expected error")
	}

	for id, w := range f.works.works {
		if w.Status != model.WorkFailed {
			t.Errorf("status = %v, want Failed", w.Status)
		}
		if _, err := f.progress.Get(ctx, id); !errors.Is(err, cache.ErrProgressNotFound) {
			t.Errorf("progress still present: %v", err)
		}
	}
}

func TestKill(t *testing.T) {
	tests := []struct {
		name    string
		status  model.WorkStatus
		wantErr error
	}{
		{"waiting", model.WorkWaiting, nil},
		{"in progress", model.WorkInProgress, nil},
		{"finished", model.WorkSuccess, ErrJobFinished},
		{"already killed", model.WorkKilled, ErrJobFinished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			id := primitive.NewObjectID()
			f.works.works[id.Hex()] = &model.Work{ID: id, Status: tt.status}
			if err := f.progress.Create(ctx, model.Progress{JobID: id.Hex(), StatusCode: model.ProgressDownloading}); err != nil {
				t.Fatalf("Create progress: %v", err)
			}

			err := f.jc.Kill(ctx, id.Hex())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Kill err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}

			if got := f.works.works[id.Hex()].Status; got != model.WorkKilled {
				t.Errorf("work status = %v, want Killed", got)
			}
			p, err := f.progress.Get(ctx, id.Hex())
			if err != nil {
				t.Fatalf("progress: %v", err)
			}
			if p.StatusCode != model.ProgressKilled {
				t.Errorf("progress status = %v, want Killed", p.StatusCode)
			}
		})
	}
}

func TestKillUnknownJob(t *testing.T) {
	f := newFixture(t)
	err := f.jc.Kill(context.Background(), primitive.NewObjectID().Hex())
	if !errors.Is(err, database.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestOpenResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.files.Put(ctx, storage.AreaResult, "out.xlsx", strings.NewReader("result")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := f.jc.OpenResult(ctx, "out.xlsx")
	if err != nil {
		t.Fatalf("OpenResult: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "result" {
		t.Errorf("data = %q", data)
	}

	for _, name := range []string{"../input/x.xlsx", "..", "a/b.xlsx"} {
		if _, err := f.jc.OpenResult(ctx, name); !errors.Is(err, storage.ErrInvalidPath) {
			t.Errorf("OpenResult(%q) err = %v, want ErrInvalidPath", name, err)
		}
	}

	if _, err := f.jc.OpenResult(ctx, "missing.xlsx"); !errors.Is(err, storage.ErrNotExist) {
		t.Errorf("missing file err = %v, want ErrNotExist", err)
	}
}

func TestDedupToken(t *testing.T) {
	got := dedupToken(time.Date(2023, 12, 31, 23, 59, 1, 0, time.UTC), 7)
	if want := "2023_12_31__23_59_01__7__"; got != want {
		t.Errorf("dedupToken = %q, want %q", got, want)
	}
	if uploadName("/tmp/../a.xlsx") != "a.xlsx" {
		t.Errorf("uploadName kept directories")
	}
}

func TestSubmitRejectsTrademarkWithoutService(t *testing.T) {
	f := newFixture(t)
	f.jc.trademarks = false
	ctx := context.Background()

	_, err := f.jc.Submit(ctx, Upload{Filename: "products.xlsx", Data: sampleWorkbook(t)}, model.ExtractParams{UseTrademark: true})
	if !errors.Is(err, ErrTrademarkUnavailable) {
		t.Fatalf("err = %v, want ErrTrademarkUnavailable", err)
	}
	if len(f.works.works) != 0 || len(f.publisher.sent) != 0 {
		t.Error("rejected submission created a job")
	}

	if _, err := f.jc.Submit(ctx, Upload{Filename: "products.xlsx", Data: sampleWorkbook(t)}, model.ExtractParams{}); err != nil {
		t.Errorf("Submit without trademark screening: %v", err)
	}
}
