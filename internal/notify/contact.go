package notify

// ShiftTable maps a time shift to a regulation.
type ShiftTable map[Shift]Regulation

// TimeSeverityTable maps severity, then shift, to a regulation.
type TimeSeverityTable map[Severity]ShiftTable

func (t TimeSeverityTable) Lookup(sev Severity, shift Shift) (Regulation, bool) {
	if t == nil {
		return 0, false
	}
	row, ok := t[sev]
	if !ok || row == nil {
		return 0, false
	}
	r, ok := row[shift]
	return r, ok
}

// Contact is a recipient as served by the directory.
type Contact struct {
	ID          string `json:"id"`
	UserRef     string `json:"user_ref,omitempty"`
	Email       string `json:"email,omitempty"`
	SMSNumber   string `json:"sms_number,omitempty"`
	VoiceNumber string `json:"voice_number,omitempty"`
	TimeZone    string `json:"time_zone,omitempty"`
	Locale      string `json:"locale,omitempty"`
	Active      bool   `json:"active"`

	Table TimeSeverityTable `json:"table,omitempty"`
	// ChannelTables override Table for a single channel.
	ChannelTables map[Channel]TimeSeverityTable `json:"channel_tables,omitempty"`
	// DefaultTable applies when no severity row matches.
	DefaultTable ShiftTable `json:"default_table,omitempty"`
}

// Address returns the contact's address on ch; empty disables the channel.
// In-app delivery is addressed by the user reference.
func (c Contact) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.SMSNumber
	case ChannelVoice:
		return c.VoiceNumber
	case ChannelInApp:
		return c.UserRef
	}
	return ""
}

// Member is a group membership; inactive members are skipped without removal.
type Member struct {
	ContactID string `json:"contact_id"`
	Active    bool   `json:"active"`
}

type Group struct {
	ID      string   `json:"id"`
	Active  bool     `json:"active"`
	Members []Member `json:"members,omitempty"`
}

// ActiveMemberIDs returns active member ids in order, or nil for an inactive group.
func (g Group) ActiveMemberIDs() []string {
	if !g.Active {
		return nil
	}
	out := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Active && m.ContactID != "" {
			out = append(out, m.ContactID)
		}
	}
	return out
}
