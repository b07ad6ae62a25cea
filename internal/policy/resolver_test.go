package policy

import (
	"testing"
	"time"

	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

// 2024-03-06 is a Wednesday, 2024-03-09 a Saturday.
var (
	wedNoonUTC  = time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	wedNightUTC = time.Date(2024, 3, 6, 22, 30, 0, 0, time.UTC)
	satNoonUTC  = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
)

func TestClassifyShifts(t *testing.T) {
	t.Parallel()

	h := DefaultHours
	cases := []struct {
		at   time.Time
		want notify.Shift
	}{
		{wedNoonUTC, notify.BusinessHours},
		{wedNightUTC, notify.AfterHours},
		{satNoonUTC, notify.Weekend},
		{time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC), notify.BusinessHours},
		{time.Date(2024, 3, 6, 17, 0, 0, 0, time.UTC), notify.AfterHours},
	}
	for _, tc := range cases {
		if got := h.Classify(tc.at); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.at, got, tc.want)
		}
	}
}

func TestOvernightWindow(t *testing.T) {
	t.Parallel()

	h := BusinessHours{Start: 22 * 60, End: 6 * 60}
	if got := h.Classify(wedNightUTC); got != notify.BusinessHours {
		t.Fatalf("22:30 got %v", got)
	}
	if got := h.Classify(wedNoonUTC); got != notify.AfterHours {
		t.Fatalf("12:00 got %v", got)
	}
}

func TestResolveFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	r := New(Config{}, logx.Nop())
	c := notify.Contact{ID: "c1", Active: true}
	if d := r.Resolve(c, notify.SeverityInfo, wedNoonUTC); d.Base != notify.Allow {
		t.Fatalf("business hours default: %v", d.Base)
	}
	if d := r.Resolve(c, notify.SeverityInfo, wedNightUTC); d.Base != notify.Digest {
		t.Fatalf("after hours default: %v", d.Base)
	}
	if d := r.Resolve(c, notify.SeverityInfo, satNoonUTC); d.Base != notify.Digest {
		t.Fatalf("weekend default: %v", d.Base)
	}
}

func TestResolveTableOrder(t *testing.T) {
	t.Parallel()

	r := New(Config{}, logx.Nop())
	c := notify.Contact{
		ID: "c1",
		Table: notify.TimeSeverityTable{
			notify.SeverityCritical: {notify.BusinessHours: notify.Allow, notify.AfterHours: notify.Allow, notify.Weekend: notify.Allow},
		},
		DefaultTable: notify.ShiftTable{notify.BusinessHours: notify.Suppress},
		ChannelTables: map[notify.Channel]notify.TimeSeverityTable{
			notify.ChannelVoice: {notify.SeverityCritical: {notify.Weekend: notify.DigestAndSuppress}},
		},
	}
	d := r.Resolve(c, notify.SeverityCritical, satNoonUTC)
	if d.For(notify.ChannelEmail) != notify.Allow {
		t.Fatalf("email: %v", d.For(notify.ChannelEmail))
	}
	if d.For(notify.ChannelVoice) != notify.DigestAndSuppress {
		t.Fatalf("voice override: %v", d.For(notify.ChannelVoice))
	}
	if d := r.Resolve(c, notify.SeverityWarning, wedNoonUTC); d.Base != notify.Suppress {
		t.Fatalf("contact default table: %v", d.Base)
	}
}

func TestResolveUnknownSeverityDigests(t *testing.T) {
	t.Parallel()

	r := New(Config{}, logx.Nop())
	d := r.Resolve(notify.Contact{ID: "c"}, notify.Severity(42), wedNoonUTC)
	if d.Base != notify.Digest {
		t.Fatalf("got %v", d.Base)
	}
}

func TestResolveUsesContactTimeZone(t *testing.T) {
	t.Parallel()

	r := New(Config{}, logx.Nop())
	// 12:00 UTC is 21:00 in Tokyo.
	c := notify.Contact{ID: "c", TimeZone: "Asia/Tokyo"}
	if got := r.Shift(c, wedNoonUTC); got != notify.AfterHours {
		t.Fatalf("tokyo shift: %v", got)
	}
	bad := notify.Contact{ID: "c", TimeZone: "Nowhere/Special"}
	if got := r.Shift(bad, wedNoonUTC); got != notify.BusinessHours {
		t.Fatalf("unknown zone must use UTC: %v", got)
	}
}

func TestLocaleHoursAndApply(t *testing.T) {
	t.Parallel()

	r := New(Config{}, logx.Nop())
	c := notify.Contact{ID: "c", Locale: "night"}
	if got := r.Shift(c, wedNightUTC); got != notify.AfterHours {
		t.Fatalf("before apply: %v", got)
	}
	r.Apply(Config{Locales: map[string]BusinessHours{"night": {Start: 20 * 60, End: 4 * 60}}})
	if got := r.Shift(c, wedNightUTC); got != notify.BusinessHours {
		t.Fatalf("after apply: %v", got)
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	if m, err := ParseClock("09:30"); err != nil || m != 570 {
		t.Fatalf("09:30 -> %d %v", m, err)
	}
	if m, err := ParseClock("24:00"); err != nil || m != 1440 {
		t.Fatalf("24:00 -> %d %v", m, err)
	}
	for _, bad := range []string{"9", "25:00", "12:60", "aa:bb"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
	if d, err := ParseWeekday("Sat"); err != nil || d != time.Saturday {
		t.Fatalf("sat -> %v %v", d, err)
	}
}
