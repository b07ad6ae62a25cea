package notify

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRequestedRegulation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		req  RegulationRequest
		want Regulation
	}{
		{"none", RegulationRequest{}, Allow},
		{"suppress", RegulationRequest{WantSuppression: true}, Suppress},
		{"digest", RegulationRequest{WantDigest: true}, Digest},
		{"both", RegulationRequest{WantDigest: true, WantSuppression: true}, DigestAndSuppress},
	}
	for _, tc := range cases {
		if got := tc.req.Requested(); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestMaxRegulationOrder(t *testing.T) {
	t.Parallel()

	if MaxRegulation(Digest, Suppress) != Digest {
		t.Fatalf("digest must outrank suppress")
	}
	if MaxRegulation(Allow, DigestAndSuppress) != DigestAndSuppress {
		t.Fatalf("digest_and_suppress must be the maximum")
	}
	if MaxRegulation(Allow, Allow) != Allow {
		t.Fatalf("allow,allow")
	}
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	body := Payload{SMSText: "hi"}
	cases := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"no target", Message{Payload: body}, false},
		{"two targets", Message{Payload: body, Target: Target{ContactID: "c1", GroupID: "g1"}}, false},
		{"blank group in list", Message{Payload: body, Target: Target{GroupIDs: []string{"g1", " "}}}, false},
		{"no payload", Message{Target: Target{ContactID: "c1"}}, false},
		{"contact", Message{Payload: body, Target: Target{ContactID: "c1"}}, true},
		{"groups", Message{Payload: body, Target: Target{GroupIDs: []string{"g1", "g2"}}}, true},
	}
	for _, tc := range cases {
		err := tc.msg.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", tc.name, err)
		}
	}
}

func TestSignatureKeyStable(t *testing.T) {
	t.Parallel()

	c := Contact{ID: "c1", UserRef: "u1"}
	a := SignatureOf(Message{Subject: "disk full"}, c)
	b := SignatureOf(Message{Subject: "disk full", Creator: " "}, c)
	if a.Key() != b.Key() {
		t.Fatalf("blank creator must normalize to the same key")
	}
	if a.Creator != "none" {
		t.Fatalf("creator=%q", a.Creator)
	}
	other := SignatureOf(Message{Subject: "disk fully"}, c)
	if a.Key() == other.Key() {
		t.Fatalf("distinct subjects collided")
	}
}

func TestSignatureKeyFieldBoundaries(t *testing.T) {
	t.Parallel()

	cases := [][2]Signature{
		{{Subject: "a", Creator: "b|c"}, {Subject: "a|b", Creator: "c"}},
		{{Subject: "1:x", Creator: "y"}, {Subject: "1", Creator: "x|1:y"}},
		{{UserRef: "u", ContactID: ""}, {UserRef: "", ContactID: "u"}},
	}
	for i, tc := range cases {
		if tc[0].Key() == tc[1].Key() {
			t.Fatalf("case %d: %+v and %+v share key %q", i, tc[0], tc[1], tc[0].Key())
		}
	}
}

func TestUnitKeyScopedByChannel(t *testing.T) {
	t.Parallel()

	m := Message{Subject: "s", Payload: Payload{SMSText: "x", InAppText: "y"}}
	c := Contact{ID: "c1", UserRef: "u1", SMSNumber: "+1"}
	sms, ok := NewUnit(m, c, ChannelSMS)
	if !ok {
		t.Fatalf("sms unit missing")
	}
	inapp, ok := NewUnit(m, c, ChannelInApp)
	if !ok {
		t.Fatalf("inapp unit missing")
	}
	if sms.Key() == inapp.Key() {
		t.Fatalf("unit keys must differ per channel")
	}
	if inapp.Address != "u1" {
		t.Fatalf("inapp address=%q", inapp.Address)
	}
	if _, ok := NewUnit(m, c, ChannelEmail); ok {
		t.Fatalf("email unit must not exist without email payload")
	}
}

func TestTableJSONKeys(t *testing.T) {
	t.Parallel()

	raw := `{"id":"c1","active":true,"table":{"critical":{"business_hours":"allow","weekend":"digest_and_suppress"}},"default_table":{"after_hours":"digest"}}`
	var c Contact
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r, ok := c.Table.Lookup(SeverityCritical, Weekend); !ok || r != DigestAndSuppress {
		t.Fatalf("lookup weekend: %v %v", r, ok)
	}
	if _, ok := c.Table.Lookup(SeverityInfo, Weekend); ok {
		t.Fatalf("missing row must not match")
	}
	if c.DefaultTable[AfterHours] != Digest {
		t.Fatalf("default table: %v", c.DefaultTable)
	}
}

func TestGroupActiveMembers(t *testing.T) {
	t.Parallel()

	g := Group{ID: "g", Active: true, Members: []Member{{ContactID: "a", Active: true}, {ContactID: "b"}, {ContactID: "c", Active: true}}}
	got := g.ActiveMemberIDs()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("members=%v", got)
	}
	g.Active = false
	if len(g.ActiveMemberIDs()) != 0 {
		t.Fatalf("inactive group must have no members")
	}
}
