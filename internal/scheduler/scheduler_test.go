package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "notifyrelay/pkg/logx"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "*/5 * * * *", want: "*/5 * * * *"},
		{in: "@every 10s", want: "@every 10s"},
		{in: "cron: @hourly", want: "@hourly"},
		{in: "10s", want: "@every 10s"},
		{in: "00:05", want: "@every 5m0s"},
		{in: "", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "00:75", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("Normalize(%q) expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("Normalize(%q)=%q,%v want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestAddValidates(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.Add(Job{Name: "", Schedule: "1s", Run: noop}); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if err := s.Add(Job{Name: "x", Schedule: "61 * * * *", Run: noop}); err == nil {
		t.Fatalf("expected cron parse error")
	}
	if err := s.Add(Job{Name: "x", Schedule: "1s", Run: noop}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(Job{Name: "x", Schedule: "1s", Run: noop}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestTriggerRecordsStats(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	var n atomic.Int32
	_ = s.Add(Job{Name: "ok", Schedule: "1h", Run: func(context.Context) error { n.Add(1); return nil }})
	_ = s.Add(Job{Name: "bad", Schedule: "1h", Run: func(context.Context) error { return errors.New("boom") }})
	_ = s.Add(Job{Name: "panics", Schedule: "1h", Run: func(context.Context) error { panic("oops") }})

	for _, name := range []string{"ok", "ok", "bad", "panics"} {
		if !s.Trigger(name) {
			t.Fatalf("Trigger(%s) returned false", name)
		}
	}
	if s.Trigger("missing") {
		t.Fatalf("unknown job should not run")
	}
	if n.Load() != 2 {
		t.Fatalf("runs=%d, want 2", n.Load())
	}

	byName := map[string]JobStats{}
	for _, st := range s.Snapshot() {
		byName[st.Name] = st
	}
	if byName["ok"].Runs != 2 || byName["ok"].Failures != 0 {
		t.Fatalf("ok stats=%+v", byName["ok"])
	}
	if byName["bad"].Failures != 1 || byName["bad"].LastErr != "boom" {
		t.Fatalf("bad stats=%+v", byName["bad"])
	}
	if byName["panics"].Failures != 1 {
		t.Fatalf("panic should count as failure: %+v", byName["panics"])
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.Add(Job{Name: "slow", Schedule: "1h", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})

	go s.Trigger("slow")
	<-started
	s.Trigger("slow")
	close(release)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		st := s.Snapshot()[0]
		if st.Runs == 1 {
			if st.Skipped != 1 {
				t.Fatalf("skipped=%d, want 1", st.Skipped)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("slow job never finished")
}

func TestStartRunsEverySecondSpec(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	ran := make(chan struct{}, 1)
	_ = s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}})
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not run")
	}
	if st := s.Snapshot()[0]; st.Next.IsZero() {
		t.Fatalf("next run should be known while started")
	}
}
