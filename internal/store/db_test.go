package store

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDB_PlayedRoundTripOrder(t *testing.T) {
	db := openTestDB(t, ":memory:")
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i, key := range []string{"a", "b", "c"} {
		if err := db.SavePlayed(ctx, key, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("SavePlayed(%s) error = %v", key, err)
		}
	}
	// Playing a again makes it the most recent.
	if err := db.SavePlayed(ctx, "a", base.Add(time.Minute)); err != nil {
		t.Fatalf("SavePlayed(a) error = %v", err)
	}

	keys, err := db.LoadPlayed(ctx, 2)
	if err != nil {
		t.Fatalf("LoadPlayed() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "c" || keys[1] != "a" {
		t.Errorf("LoadPlayed(2) = %v, expected [c a]", keys)
	}

	if err := db.TrimPlayed(ctx, 1); err != nil {
		t.Fatalf("TrimPlayed() error = %v", err)
	}
	keys, _ = db.LoadPlayed(ctx, 10)
	if len(keys) != 1 || keys[0] != "a" {
		t.Errorf("after trim = %v, expected [a]", keys)
	}
}

func TestJar_PersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunechat.db")
	ctx := context.Background()
	backend, _ := url.Parse("http://localhost:4000/api/spotify/session")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	jar, err := NewJar(ctx, db, zap.NewNop())
	if err != nil {
		t.Fatalf("NewJar() error = %v", err)
	}
	jar.SetCookies(backend, []*http.Cookie{
		{Name: "sid", Value: "s3cret", Path: "/", HttpOnly: true, MaxAge: 3600},
		{Name: "gone", Value: "x", Path: "/", Expires: time.Now().Add(-time.Hour)},
	})
	if got := jar.Cookies(backend); len(got) != 1 || got[0].Value != "s3cret" {
		t.Fatalf("Cookies() = %v", got)
	}
	db.Close()

	reopened := openTestDB(t, path)
	restored, err := NewJar(ctx, reopened, zap.NewNop())
	if err != nil {
		t.Fatalf("NewJar() after restart error = %v", err)
	}
	got := restored.Cookies(backend)
	if len(got) != 1 || got[0].Name != "sid" || got[0].Value != "s3cret" {
		t.Errorf("restored cookies = %v, expected sid only", got)
	}
}

func TestJar_DeletesClearedCookie(t *testing.T) {
	db := openTestDB(t, ":memory:")
	ctx := context.Background()
	backend, _ := url.Parse("http://localhost:4000/")

	jar, _ := NewJar(ctx, db, zap.NewNop())
	jar.SetCookies(backend, []*http.Cookie{{Name: "sid", Value: "v", Path: "/"}})
	jar.SetCookies(backend, []*http.Cookie{{Name: "sid", Value: "", Path: "/", MaxAge: -1}})

	rows, err := db.loadCookies(ctx, time.Now())
	if err != nil {
		t.Fatalf("loadCookies() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %+v, expected the cleared cookie to be deleted", rows)
	}
	if len(jar.Cookies(backend)) != 0 {
		t.Error("the in-memory jar should have dropped the cookie too")
	}
}
