package cases

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/annotator/internal/domain/annotation"
	"github.com/ehr/annotator/internal/platform/telemetry"
	"github.com/ehr/annotator/internal/platform/workspace"
)

type staticSeed []byte

func (s staticSeed) Bytes() []byte { return s }

const (
	userA = "a@hospital.org"
	userB = "b@hospital.org"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(
		NewFileStore(),
		workspace.NewResolver(t.TempDir()),
		staticSeed(sampleDoc),
		annotation.DefaultSchema(),
		"instruction_med",
		zerolog.Nop(),
	)
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc
}

func formValue(view *CaseView, name string) any {
	for _, f := range view.Form {
		if f.Name == name {
			return f.Value
		}
	}
	return nil
}

func TestService_InitFromSeed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	path, err := svc.Init(ctx, " A@Hospital.org ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != svc.workspaces.Path(userA) {
		t.Errorf("expected normalized workspace path, got %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected working file, got %v", err)
	}

	items, total, err := svc.List(ctx, userA, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(items) != 3 || items[0].ID != "P-003" {
		t.Errorf("unexpected list %+v total %d", items, total)
	}
	if !items[1].Verified || !items[1].AnnotatedByMe {
		t.Errorf("expected P-001 verified by a, got %+v", items[1])
	}
}

func TestService_InitWithoutSeed(t *testing.T) {
	svc := NewService(NewFileStore(), workspace.NewResolver(t.TempDir()), nil, annotation.DefaultSchema(), "instruction_med", zerolog.Nop())

	items, total, err := svc.List(context.Background(), userA, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Errorf("expected empty workspace, got %d", total)
	}
	if _, err := svc.NextUnverified(context.Background(), userA); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("expected ErrCaseNotFound, got %v", err)
	}
}

func TestService_ListPaging(t *testing.T) {
	svc := newTestService(t)
	items, total, err := svc.List(context.Background(), userB, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(items) != 1 || items[0].ID != "P-002" || items[0].Index != 2 {
		t.Errorf("unexpected page %+v", items)
	}
}

func TestService_NextUnverified(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	pos, err := svc.NextUnverified(ctx, userB)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.ID != "P-003" || pos.Index != 0 || pos.Total != 3 {
		t.Errorf("unexpected position %+v", pos)
	}

	for _, id := range []string{"P-003", "P-002"} {
		if _, err := svc.Save(ctx, userB, annotation.Draft{CaseID: id, Values: annotation.Values{"First_meta": 0}}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	pos, err = svc.NextUnverified(ctx, userB)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Index != 0 {
		t.Errorf("expected 0 when everything is verified, got %d", pos.Index)
	}
}

func TestService_GetStartsFromSuggestion(t *testing.T) {
	svc := newTestService(t)

	view, err := svc.Get(context.Background(), userB, "P-003")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.AnnotatedByMe || view.Verified {
		t.Errorf("expected fresh case, got %+v", view)
	}
	if view.PrevID != "" || view.NextID != "P-001" || view.Index != 0 || view.Total != 3 {
		t.Errorf("unexpected navigation %+v", view.Position)
	}
	if formValue(view, "Bone") != 1 || formValue(view, "Lung") != 1 || formValue(view, "Liver") != 0 {
		t.Errorf("expected suggested values in form, got %+v", view.Form)
	}
	if formValue(view, "First_meta_DATE") != "20240115" {
		t.Errorf("unexpected date %v", formValue(view, "First_meta_DATE"))
	}
}

func TestService_GetUsesSavedValues(t *testing.T) {
	svc := newTestService(t)

	view, err := svc.Get(context.Background(), userA, "P-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !view.AnnotatedByMe || view.UpdatedAt != "2025-01-02T03:04:05.123456" {
		t.Errorf("expected saved entry, got %+v", view)
	}
	if view.VerifiedBy != userA {
		t.Errorf("unexpected verifier %s", view.VerifiedBy)
	}
}

func TestService_GetNotFound(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Get(context.Background(), userA, "nope"); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("expected ErrCaseNotFound, got %v", err)
	}
}

func TestService_SaveEnforcesDependencies(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Save(ctx, userA, annotation.Draft{
		CaseID: "P-003",
		Values: annotation.Values{"First_meta": 1, "Bone": 0, "bone_meta_gt3": 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Changed || res.Values["bone_meta_gt3"] != 0 {
		t.Errorf("unexpected result %+v", res)
	}

	view, err := svc.Get(ctx, userA, "P-003")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if formValue(view, "bone_meta_gt3") != 0 || !view.AnnotatedByMe || !view.Verified {
		t.Errorf("expected persisted enforced values, got %+v", view)
	}
}

func TestService_SaveRootOffPersistsEmptyDependents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Save(ctx, userA, annotation.Draft{
		CaseID: "P-003",
		Values: annotation.Values{"First_meta": 0, "First_meta_DATE": "2024-01-15", "Bone": 1, "Lung": 1, "Non_axial_list": "rib"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := svc.workspaces.Path(userA)
	col, err := svc.store.Load(ctx, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ := col.Get("P-003")
	entry, ok := c.Annotation.Entry(userA)
	if !ok {
		t.Fatal("expected saved entry")
	}
	for _, f := range svc.schema.Fields() {
		if f.Name == "First_meta" {
			continue
		}
		if f.Kind == annotation.KindText && entry.Data[f.Name] != "" {
			t.Errorf("%s = %v, want empty", f.Name, entry.Data[f.Name])
		}
		if f.Kind == annotation.KindBinary && entry.Data[f.Name] != float64(0) {
			t.Errorf("%s = %v, want 0", f.Name, entry.Data[f.Name])
		}
	}
}

func TestService_SaveIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	d := annotation.Draft{CaseID: "P-002", Values: annotation.Values{"First_meta": 1, "Liver": 1}}

	if res, err := svc.Save(ctx, userA, d); err != nil || !res.Changed {
		t.Fatalf("expected first save to change, got %+v %v", res, err)
	}
	svc.now = func() time.Time { return time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC) }
	res, err := svc.Save(ctx, userA, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Changed {
		t.Error("expected identical resubmission to be a no-op")
	}

	view, _ := svc.Get(ctx, userA, "P-002")
	if view.VerifiedAt != "2025-03-01T09:00:00Z" {
		t.Errorf("expected untouched verified_at, got %s", view.VerifiedAt)
	}
}

func TestService_SaveAdvance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Save(ctx, userA, annotation.Draft{CaseID: "P-003", Values: annotation.Values{"First_meta": 0}, Advance: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextID != "P-001" {
		t.Errorf("expected next P-001, got %q", res.NextID)
	}

	res, err = svc.Save(ctx, userA, annotation.Draft{CaseID: "P-002", Values: annotation.Values{"First_meta": 0}, Advance: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextID != "" {
		t.Errorf("expected no next case at the end, got %q", res.NextID)
	}
}

func TestService_SaveNotFound(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Save(context.Background(), userA, annotation.Draft{CaseID: "nope"}); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("expected ErrCaseNotFound, got %v", err)
	}
}

func TestService_ReportsUsesCurrentDate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	groups, err := svc.Reports(ctx, userA, "P-003", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !groups[2].Reports[0].FirstMeta {
		t.Error("expected suggested First_meta_DATE to mark the bone scan")
	}

	groups, err = svc.Reports(ctx, userA, "P-003", "2023-11-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !groups[0].Reports[0].FirstMeta || groups[2].Reports[0].FirstMeta {
		t.Error("expected explicit date to mark the CT report only")
	}
}

func TestService_UploadAndDownload(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	doc := []byte(`{"X-1": {"report": [], "gpt_oss": {}}}`)
	n, err := svc.Upload(ctx, userA, doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 case, got %d", n)
	}

	data, err := svc.Download(ctx, userA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	col, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if col.Len() != 1 || col.IDs()[0] != "X-1" {
		t.Errorf("unexpected download %s", data)
	}
}

func TestService_UploadRejectsInvalidDocument(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	before, err := svc.Download(ctx, userA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Upload(ctx, userA, []byte(`{"X-1": [1, 2]}`)); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
	after, err := svc.Download(ctx, userA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(before) != string(after) {
		t.Error("expected working file untouched after rejected upload")
	}
}

func TestService_WorkspacesAreSeparate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Save(ctx, userA, annotation.Draft{CaseID: "P-002", Values: annotation.Values{"First_meta": 1}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	view, err := svc.Get(ctx, userB, "P-002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Verified {
		t.Error("expected b's workspace unaffected by a's save")
	}
}

func TestService_RecordsEvents(t *testing.T) {
	metrics := telemetry.NewProvider(telemetry.Config{})
	svc := newTestService(t).WithRecorder(metrics)
	ctx := context.Background()

	d := annotation.Draft{CaseID: "P-002", Values: annotation.Values{"First_meta": 1}}
	for i := 0; i < 2; i++ {
		if _, err := svc.Save(ctx, userA, d); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := svc.Download(ctx, userA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]int64{
		telemetry.EventWorkspaceInitialized: 1,
		telemetry.EventAnnotationSaved:      1,
		telemetry.EventAnnotationUnchanged:  1,
		telemetry.EventWorkspaceDownloaded:  1,
	}
	for event, n := range want {
		if got := metrics.Events(event); got != n {
			t.Errorf("expected %s=%d, got %d", event, n, got)
		}
	}
}
