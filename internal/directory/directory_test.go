package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"notifyrelay/internal/notify"
)

const seedYAML = `
contacts:
  - id: alice
    user_ref: "1001"
    email: alice@example.com
    time_zone: Europe/Berlin
    active: true
    table:
      critical:
        business_hours: allow
        after_hours: allow
        weekend: allow
  - id: bob
    sms_number: "+15550001"
    active: true
groups:
  - id: ops
    active: true
    members:
      - contact_id: alice
        active: true
      - contact_id: bob
        active: false
`

func writeSeed(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadFileYAML(t *testing.T) {
	t.Parallel()

	m, err := LoadFile(writeSeed(t, "dir.yaml", seedYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c, err := m.GetContact(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r, ok := c.Table.Lookup(notify.SeverityCritical, notify.Weekend); !ok || r != notify.Allow {
		t.Fatalf("table=%v", c.Table)
	}
	members, err := m.GetActiveGroupMembers(context.Background(), "ops")
	if err != nil || len(members) != 1 || members[0] != "alice" {
		t.Fatalf("members=%v err=%v", members, err)
	}
	if _, err := m.GetContact(context.Background(), "nobody"); !errors.Is(err, notify.ErrNotFound) {
		t.Fatalf("missing contact: %v", err)
	}
	if _, err := m.GetActiveGroupMembers(context.Background(), "nope"); !errors.Is(err, notify.ErrNotFound) {
		t.Fatalf("missing group: %v", err)
	}
}

func TestLoadFileRejectsBadSeeds(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown field":  "contacts:\n  - id: a\n    pager: x\n",
		"duplicate":      "contacts:\n  - id: a\n  - id: a\n",
		"unknown member": "contacts:\n  - id: a\ngroups:\n  - id: g\n    members:\n      - contact_id: zz\n",
		"bad regulation": "contacts:\n  - id: a\n    default_table:\n      weekend: sometimes\n",
	}
	for name, body := range cases {
		if _, err := LoadFile(writeSeed(t, "dir.yaml", body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestMemoryReloadKeepsOldOnError(t *testing.T) {
	t.Parallel()

	path := writeSeed(t, "dir.yaml", seedYAML)
	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := os.WriteFile(path, []byte("contacts: [\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := m.Reload(path); err == nil {
		t.Fatalf("expected reload error")
	}
	if c, g := m.Counts(); c != 2 || g != 1 {
		t.Fatalf("counts=%d,%d", c, g)
	}
}

func TestSQLiteDirectory(t *testing.T) {
	t.Parallel()

	seed, err := LoadSeed(writeSeed(t, "dir.yaml", seedYAML))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "dir.db"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := db.Import(ctx, seed); err != nil {
		t.Fatalf("import: %v", err)
	}
	c, err := db.GetContact(ctx, "alice")
	if err != nil || c.Email != "alice@example.com" || c.TimeZone != "Europe/Berlin" {
		t.Fatalf("contact=%+v err=%v", c, err)
	}
	members, err := db.GetActiveGroupMembers(ctx, "ops")
	if err != nil || len(members) != 1 || members[0] != "alice" {
		t.Fatalf("members=%v err=%v", members, err)
	}
	if err := db.PutGroup(ctx, notify.Group{ID: "ops", Active: false}); err != nil {
		t.Fatalf("put group: %v", err)
	}
	if members, err := db.GetActiveGroupMembers(ctx, "ops"); err != nil || len(members) != 0 {
		t.Fatalf("inactive group members=%v err=%v", members, err)
	}
	if _, err := db.GetContact(ctx, "zed"); !errors.Is(err, notify.ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
}
