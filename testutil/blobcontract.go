package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"plasticatlas/internal/blob/core"
)

// ExerciseBlobStore runs the create-only CRUD contract every blob backend
// must satisfy. The store must start empty.
func ExerciseBlobStore(t *testing.T, store core.Store) {
	t.Helper()
	ctx := context.Background()

	info, err := store.Put(ctx, "reports/r1/averages.csv", bytes.NewReader([]byte("plate,avg\nP1,15\n")),
		core.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"kind": "plate_averages"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "reports/r1/averages.csv" || info.Size != 16 || info.ContentType != "text/csv" {
		t.Fatalf("unexpected put info %+v", info)
	}
	if _, err := store.Put(ctx, "reports/r1/averages.csv", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists on duplicate put, got %v", err)
	}
	if _, err := store.Put(ctx, "reports/r1/averages.json", bytes.NewReader([]byte("[]")), core.PutOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	if _, err := store.Put(ctx, "other/x.txt", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put third: %v", err)
	}

	got, rc, err := store.Get(ctx, "reports/r1/averages.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || string(data) != "plate,avg\nP1,15\n" {
		t.Fatalf("unexpected content %q (%v)", data, err)
	}
	if got.ContentType != "text/csv" {
		t.Fatalf("content type lost: %+v", got)
	}

	head, err := store.Head(ctx, "reports/r1/averages.csv")
	if err != nil || head.Size != 16 {
		t.Fatalf("head: %+v %v", head, err)
	}

	list, err := store.List(ctx, "reports/r1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "reports/r1/averages.csv" || list[1].Key != "reports/r1/averages.json" {
		t.Fatalf("unexpected listing %+v", list)
	}

	if _, _, err := store.Get(ctx, "reports/missing.csv"); !errors.Is(err, core.ErrNotExist) {
		t.Fatalf("expected ErrNotExist from get, got %v", err)
	}
	if _, err := store.Head(ctx, "reports/missing.csv"); !errors.Is(err, core.ErrNotExist) {
		t.Fatalf("expected ErrNotExist from head, got %v", err)
	}
	if _, err := store.Put(ctx, "../escape", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected traversal key to be rejected")
	}

	existed, err := store.Delete(ctx, "reports/r1/averages.csv")
	if err != nil || !existed {
		t.Fatalf("delete: %v %v", existed, err)
	}
	existed, err = store.Delete(ctx, "reports/r1/averages.csv")
	if err != nil || existed {
		t.Fatalf("second delete: %v %v", existed, err)
	}
	if list, _ := store.List(ctx, "reports/"); len(list) != 1 {
		t.Fatalf("expected one remaining report object, got %+v", list)
	}
	if _, err := store.PresignURL(ctx, "reports/r1/averages.json", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected PUT presign to be unsupported, got %v", err)
	}
}
