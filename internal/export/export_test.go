package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/vat-batch/internal/batch"
	"github.com/hochfrequenz/vat-batch/internal/domain"
	"github.com/hochfrequenz/vat-batch/internal/ledger"
	"github.com/hochfrequenz/vat-batch/internal/pricestore"
	"github.com/hochfrequenz/vat-batch/internal/store"
)

type fixture struct {
	business *store.DB
	prices   *pricestore.Store
	runner   *batch.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	meta, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { meta.Close() })
	business, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { business.Close() })

	l, err := ledger.New(ctx, meta)
	if err != nil {
		t.Fatal(err)
	}
	prices, err := pricestore.New(ctx, business)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{business: business, prices: prices, runner: batch.NewRunner(l, nil)}
}

// insert stores a calculation with an explicit id
func (f *fixture) insert(t *testing.T, id int64, price, rate, vat, total string) {
	t.Helper()
	_, err := f.business.ExecContext(context.Background(), `
		INSERT INTO price_calculations (id, original_price, vat_rate, vat_amount, total_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, price, rate, vat, total, time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) run(t *testing.T, cfg JobConfig) *domain.JobExecution {
	t.Helper()
	params := domain.NewRunParameters().AddTimestamp(domain.ParamStartTime, time.Now())
	exec, err := f.runner.Run(context.Background(), NewJob(cfg, f.prices), params)
	if err != nil {
		t.Fatal(err)
	}
	return exec
}

var fixedNow = func() time.Time { return time.Date(2024, 5, 2, 14, 5, 9, 0, time.UTC) }

func readDocument(t *testing.T, path string) (Document, map[string]any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	return doc, raw
}

func TestJob_ExportsInAscendingIDOrder(t *testing.T) {
	f := newFixture(t)
	f.insert(t, 3, "30.00", "0.0700", "2.10", "32.10")
	f.insert(t, 1, "100.00", "0.0700", "7.00", "107.00")
	f.insert(t, 2, "250.50", "0.1000", "25.05", "275.55")

	dir := filepath.Join(t.TempDir(), "exports")
	exec := f.run(t, JobConfig{OutputDir: dir, Now: fixedNow})
	if exec.Status != domain.StatusCompleted {
		t.Fatalf("Status = %s, want COMPLETED (%s)", exec.Status, exec.ExitMessage)
	}

	path := filepath.Join(dir, "vat_calculations_export_20240502_140509.json")
	doc, raw := readDocument(t, path)

	var ids []int64
	for _, r := range doc.VatCalculations {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Errorf("ids = %v, want [1 2 3]", ids)
	}

	info := doc.ExportInfo
	if info.RecordCount != 3 {
		t.Errorf("recordCount = %d, want 3", info.RecordCount)
	}
	if info.Source != "batch-processing-system" || info.Version != "1.0" || info.Format != "JSON" {
		t.Errorf("exportInfo = %+v", info)
	}
	if info.ExportTimestamp != "2024-05-02 14:05:09" {
		t.Errorf("exportTimestamp = %q", info.ExportTimestamp)
	}

	first := doc.VatCalculations[0]
	if first.VatAmount.String() != "7.00" || first.TotalPrice.String() != "107.00" {
		t.Errorf("first amounts = %s/%s, want 7.00/107.00", first.VatAmount, first.TotalPrice)
	}
	if first.ProcessedAt != "2024-05-01 09:30:15" {
		t.Errorf("processedAt = %q", first.ProcessedAt)
	}

	// amounts are JSON numbers, not strings
	calcs := raw["vatCalculations"].([]any)
	if _, ok := calcs[0].(map[string]any)["totalPrice"].(float64); !ok {
		t.Errorf("totalPrice is %T, want number", calcs[0].(map[string]any)["totalPrice"])
	}

	step := exec.StepExecutions[0]
	if step.ReadCount != 3 || step.WriteCount != 3 {
		t.Errorf("read/write = %d/%d, want 3/3", step.ReadCount, step.WriteCount)
	}
}

func TestJob_EmptyStoreWritesNoFile(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(t.TempDir(), "exports")

	exec := f.run(t, JobConfig{OutputDir: dir, Now: fixedNow})
	if exec.Status != domain.StatusCompleted {
		t.Fatalf("Status = %s, want COMPLETED", exec.Status)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("output directory should not be created for an empty export: %v", err)
	}
}

func TestJob_UnwritableDirectoryFails(t *testing.T) {
	f := newFixture(t)
	f.insert(t, 1, "1.00", "0.1000", "0.10", "1.10")

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	exec := f.run(t, JobConfig{OutputDir: filepath.Join(blocker, "exports")})
	if exec.Status != domain.StatusFailed {
		t.Errorf("Status = %s, want FAILED", exec.Status)
	}
	if !strings.Contains(exec.ExitMessage, batch.ErrSinkFailed.Error()) {
		t.Errorf("ExitMessage = %q", exec.ExitMessage)
	}
}

type fakeUploader struct {
	name string
	data []byte
	err  error
}

func (u *fakeUploader) Upload(_ context.Context, name string, data []byte) error {
	u.name = name
	u.data = data
	return u.err
}

func TestJob_MirrorReceivesDocument(t *testing.T) {
	f := newFixture(t)
	f.insert(t, 1, "1.00", "0.1000", "0.10", "1.10")
	up := &fakeUploader{}

	dir := t.TempDir()
	exec := f.run(t, JobConfig{OutputDir: dir, Mirror: up, Now: fixedNow})
	if exec.Status != domain.StatusCompleted {
		t.Fatalf("Status = %s, want COMPLETED (%s)", exec.Status, exec.ExitMessage)
	}
	if up.name != FileName(fixedNow()) {
		t.Errorf("uploaded name = %q", up.name)
	}
	onDisk, err := os.ReadFile(filepath.Join(dir, up.name))
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != string(up.data) {
		t.Error("mirrored document differs from the written file")
	}
}

func TestJob_MirrorFailureFailsStep(t *testing.T) {
	f := newFixture(t)
	f.insert(t, 1, "1.00", "0.1000", "0.10", "1.10")

	exec := f.run(t, JobConfig{OutputDir: t.TempDir(), Mirror: &fakeUploader{err: errors.New("bucket gone")}})
	if exec.Status != domain.StatusFailed {
		t.Errorf("Status = %s, want FAILED", exec.Status)
	}
}

func TestNewJob_SinkPerRun(t *testing.T) {
	f := newFixture(t)
	a := NewJob(JobConfig{OutputDir: "a"}, f.prices)
	b := NewJob(JobConfig{OutputDir: "b"}, f.prices)

	sa := a.Steps[0].(*batch.ChunkStep[domain.PriceCalculation, domain.ExportRecord]).Sink
	sb := b.Steps[0].(*batch.ChunkStep[domain.PriceCalculation, domain.ExportRecord]).Sink
	if sa == sb {
		t.Error("jobs must not share a sink")
	}
}

type countingPager struct {
	rows  []domain.PriceCalculation
	calls int
}

func (p *countingPager) Page(_ context.Context, afterID int64, limit int) ([]domain.PriceCalculation, error) {
	p.calls++
	var out []domain.PriceCalculation
	for _, r := range p.rows {
		if r.ID > afterID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestPagedSource_Pages(t *testing.T) {
	tests := []struct {
		rows  int
		calls int
	}{
		{0, 1},
		{7, 1},
		{10, 2},
		{25, 3},
	}

	for _, tt := range tests {
		pager := &countingPager{}
		for i := 1; i <= tt.rows; i++ {
			pager.rows = append(pager.rows, domain.PriceCalculation{ID: int64(i)})
		}

		var got int
		for _, err := range (&PagedSource{Pager: pager, PageSize: 10}).Read(context.Background()) {
			if err != nil {
				t.Fatal(err)
			}
			got++
		}
		if got != tt.rows {
			t.Errorf("rows = %d, want %d", got, tt.rows)
		}
		if pager.calls != tt.calls {
			t.Errorf("%d rows: page calls = %d, want %d", tt.rows, pager.calls, tt.calls)
		}
	}
}

func TestObjectStoreConfig_Validate(t *testing.T) {
	if err := (ObjectStoreConfig{}).Validate(); err != nil {
		t.Errorf("disabled config: %v", err)
	}

	err := ObjectStoreConfig{Enabled: true, Endpoint: "localhost:9000"}.Validate()
	if err == nil || !strings.Contains(err.Error(), "access_key, secret_key, bucket") {
		t.Errorf("err = %v", err)
	}

	m, err := NewObjectStoreMirror(ObjectStoreConfig{
		Enabled: true, Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "exports", Prefix: "/vat/",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := m.ObjectKey("x.json"); got != "vat/x.json" {
		t.Errorf("ObjectKey = %q, want vat/x.json", got)
	}
}

func TestJob_TimestampsShareExportZone(t *testing.T) {
	f := newFixture(t)
	f.insert(t, 1, "100.00", "0.0700", "7.00", "107.00")

	berlin := time.FixedZone("CEST", 2*60*60)
	dir := t.TempDir()
	exec := f.run(t, JobConfig{OutputDir: dir, Now: func() time.Time {
		return time.Date(2024, 5, 2, 14, 5, 9, 0, berlin)
	}})
	if exec.Status != domain.StatusCompleted {
		t.Fatalf("Status = %s, want COMPLETED (%s)", exec.Status, exec.ExitMessage)
	}

	doc, _ := readDocument(t, filepath.Join(dir, "vat_calculations_export_20240502_140509.json"))
	if doc.ExportInfo.ExportTimestamp != "2024-05-02 14:05:09" {
		t.Errorf("exportTimestamp = %q", doc.ExportInfo.ExportTimestamp)
	}
	// stored as 09:30:15 UTC
	if got := doc.VatCalculations[0].ProcessedAt; got != "2024-05-01 11:30:15" {
		t.Errorf("processedAt = %q, want 2024-05-01 11:30:15", got)
	}
}
