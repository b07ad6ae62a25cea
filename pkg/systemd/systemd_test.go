package systemd

import (
	"context"
	"testing"
)

func TestNoopWithoutNotifySocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	for name, fn := range map[string]func() error{
		"ready":    Ready,
		"stopping": Stopping,
		"reload":   Reloading,
		"status":   func() error { return Status("ok") },
	} {
		if err := fn(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	if err := Watchdog(context.Background(), nil); err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
}
