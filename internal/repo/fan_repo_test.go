package repo

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/persona-engine/internal/domain"
)

func TestGetOrCreateFan_CreatesDefaultsOnce(t *testing.T) {
	db := newMsgRepoDB(t, &domain.Fan{})
	ctx := context.Background()

	f, err := GetOrCreateFan(ctx, db, "fan-1")
	if err != nil {
		t.Fatalf("GetOrCreateFan: %v", err)
	}
	if f.FanID != "fan-1" || f.Name != domain.DefaultFanName || f.LoreText != "" || f.LastVibe != domain.DefaultVibe {
		t.Fatalf("unexpected defaults: %+v", f)
	}

	if err := UpdateFanLore(ctx, db, "fan-1", "Fan likes hiking"); err != nil {
		t.Fatalf("UpdateFanLore: %v", err)
	}

	again, err := GetOrCreateFan(ctx, db, "fan-1")
	if err != nil {
		t.Fatalf("second GetOrCreateFan: %v", err)
	}
	if again.LoreText != "Fan likes hiking" {
		t.Fatalf("existing row should be returned unchanged, got %+v", again)
	}

	n, err := CountFans(ctx, db)
	if err != nil || n != 1 {
		t.Fatalf("CountFans = %d, %v; want 1", n, err)
	}
}

func TestGetOrCreateFan_ConcurrentFirstContact(t *testing.T) {
	// OpenSQLite sets busy_timeout so concurrent writers wait instead of failing.
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "race.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := GetOrCreateFan(ctx, db, "same"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent GetOrCreateFan: %v", err)
	}
	if n, _ := CountFans(ctx, db); n != 1 {
		t.Fatalf("expected exactly one fan row, got %d", n)
	}
}

func TestUpdateFan_NotFound(t *testing.T) {
	db := newMsgRepoDB(t, &domain.Fan{})
	ctx := context.Background()
	if err := UpdateFanName(ctx, db, "ghost", "Mike"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateFanName err = %v; want ErrNotFound", err)
	}
	if err := UpdateFanLore(ctx, db, "ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateFanLore err = %v; want ErrNotFound", err)
	}
	if _, err := GetFan(ctx, db, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetFan err = %v; want ErrNotFound", err)
	}
}

func TestUpdateFanName_BumpsUpdatedAt(t *testing.T) {
	db := newMsgRepoDB(t, &domain.Fan{})
	ctx := context.Background()
	f, _ := GetOrCreateFan(ctx, db, "f1")
	time.Sleep(5 * time.Millisecond)

	if err := UpdateFanName(ctx, db, "f1", "Mike"); err != nil {
		t.Fatalf("UpdateFanName: %v", err)
	}
	got, err := GetFan(ctx, db, "f1")
	if err != nil {
		t.Fatalf("GetFan: %v", err)
	}
	if got.Name != "Mike" || !got.UpdatedAt.After(f.UpdatedAt) {
		t.Fatalf("expected name Mike and newer UpdatedAt, got %+v (before %v)", got, f.UpdatedAt)
	}
	if !got.CreatedAt.Equal(f.CreatedAt) {
		t.Fatalf("CreatedAt must not change: %v vs %v", got.CreatedAt, f.CreatedAt)
	}
}

func TestListFansPage_OrderedByActivity(t *testing.T) {
	db := newMsgRepoDB(t, &domain.Fan{})
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		ts := t0.Add(time.Duration(i) * time.Hour)
		if err := db.Create(&domain.Fan{FanID: id, Name: "Unknown", CreatedAt: ts, UpdatedAt: ts}).Error; err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	page, err := ListFansPage(ctx, db, 0, 2)
	if err != nil {
		t.Fatalf("ListFansPage: %v", err)
	}
	if len(page) != 2 || page[0].FanID != "c" || page[1].FanID != "b" {
		t.Fatalf("unexpected page: %+v", page)
	}
}
