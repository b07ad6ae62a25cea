package notify

import (
	"fmt"
	"strings"
)

// Severity is ordered: Info < Warning < Error < Critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"info", "warning", "error", "critical"}

func (s Severity) Valid() bool { return s >= SeverityInfo && s <= SeverityCritical }

func (s Severity) String() string {
	if !s.Valid() {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseSeverity(raw string) (Severity, error) {
	k := strings.ToLower(strings.TrimSpace(raw))
	if k == "warn" {
		k = "warning"
	}
	for i, n := range severityNames {
		if n == k {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", raw)
}

// Regulation is the delivery policy of one unit. Larger values are more restrictive.
type Regulation int

const (
	Allow Regulation = iota
	Suppress
	Digest
	DigestAndSuppress
)

var regulationNames = [...]string{"allow", "suppress", "digest", "digest_and_suppress"}

func (r Regulation) Valid() bool { return r >= Allow && r <= DigestAndSuppress }

func (r Regulation) String() string {
	if !r.Valid() {
		return fmt.Sprintf("regulation(%d)", int(r))
	}
	return regulationNames[r]
}

func (r Regulation) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Regulation) UnmarshalText(b []byte) error {
	v, err := ParseRegulation(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func ParseRegulation(raw string) (Regulation, error) {
	k := strings.ToLower(strings.TrimSpace(raw))
	k = strings.NewReplacer("-", "_", " ", "_").Replace(k)
	for i, n := range regulationNames {
		if n == k {
			return Regulation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown regulation %q", raw)
}

// MaxRegulation returns the more restrictive of a and b.
func MaxRegulation(a, b Regulation) Regulation {
	if a > b {
		return a
	}
	return b
}

// IsDigest reports whether units with this regulation are buffered into digests.
func (r Regulation) IsDigest() bool { return r >= Digest }

// Shift classifies a local time of day.
type Shift int

const (
	BusinessHours Shift = iota
	AfterHours
	Weekend
)

var shiftNames = [...]string{"business_hours", "after_hours", "weekend"}

func (s Shift) String() string {
	if s < BusinessHours || s > Weekend {
		return fmt.Sprintf("shift(%d)", int(s))
	}
	return shiftNames[s]
}

func (s Shift) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Shift) UnmarshalText(b []byte) error {
	k := strings.ToLower(strings.TrimSpace(string(b)))
	for i, n := range shiftNames {
		if n == k {
			*s = Shift(i)
			return nil
		}
	}
	return fmt.Errorf("unknown shift %q", string(b))
}

// Channel is one of the closed set of delivery channels.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
	ChannelInApp Channel = "inapp"
)

// Channels lists every channel in fan-out order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelVoice, ChannelInApp}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelVoice, ChannelInApp:
		return true
	}
	return false
}
