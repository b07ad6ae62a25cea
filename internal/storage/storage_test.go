package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

func openTestStore(t *testing.T, driver string) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.db")
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	return st, path
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("got %v %v", st, err)
	}
	if _, err := Open(Config{Driver: "bogus", Path: "x"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver must fail")
	}
}

func TestClaimSuppression(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st, _ := openTestStore(t, driver)
			defer st.Close()

			ctx := context.Background()
			now := time.Now()
			until := now.Add(time.Hour)

			ok, err := st.ClaimSuppression(ctx, "k", until, now)
			if err != nil || !ok {
				t.Fatalf("first claim: %v %v", ok, err)
			}
			ok, err = st.ClaimSuppression(ctx, "k", until.Add(time.Minute), now.Add(time.Minute))
			if err != nil || ok {
				t.Fatalf("second claim inside window: %v %v", ok, err)
			}
			got, found, err := st.GetSuppression(ctx, "k")
			if err != nil || !found || got.UnixMilli() != until.UnixMilli() {
				t.Fatalf("get: %v %v %v", got, found, err)
			}
			ok, err = st.ClaimSuppression(ctx, "k", until.Add(2*time.Hour), until)
			if err != nil || !ok {
				t.Fatalf("claim after expiry: %v %v", ok, err)
			}
		})
	}
}

func TestFileClaimsSurviveReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "relay.db")}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now()
	if ok, err := st.ClaimSuppression(context.Background(), "k", now.Add(time.Hour), now); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if ok, _ := st.ClaimSuppression(context.Background(), "k", now.Add(2*time.Hour), now.Add(time.Minute)); ok {
		t.Fatalf("claim must persist across restart")
	}
}

func TestFileAppendAudit(t *testing.T) {
	t.Parallel()

	st, path := openTestStore(t, "file")
	e := notify.AuditEntry{ID: "a1", Kind: notify.AuditDelivery, ContactID: "c1", Channel: notify.ChannelSMS, Status: notify.StatusSent}
	if err := st.AppendAudit(context.Background(), e); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = st.Close()

	f, err := os.Open(filepath.Join(filepath.Dir(path), "relay.audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatalf("no audit line")
	}
	var got notify.AuditEntry
	if err := json.Unmarshal(sc.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "a1" || got.Status != notify.StatusSent || got.Channel != notify.ChannelSMS {
		t.Fatalf("got %+v", got)
	}
}

func TestSQLiteAppendAudit(t *testing.T) {
	t.Parallel()

	st, _ := openTestStore(t, "sqlite")
	defer st.Close()
	e := notify.AuditEntry{Kind: notify.AuditDecision, Regulation: notify.Digest, ContactID: "c1"}
	if err := st.AppendAudit(context.Background(), e); err != nil {
		t.Fatalf("append: %v", err)
	}
	var n int
	if err := st.(*sqliteStore).db.QueryRow(`SELECT COUNT(*) FROM audit WHERE regulation = 'digest'`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("count=%d err=%v", n, err)
	}
}
