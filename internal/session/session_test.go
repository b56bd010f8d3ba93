package session

import (
	"errors"
	"testing"
)

var testDir = DirectoryFunc(func(platformID string) (string, bool) {
	types := map[string]string{
		"tg-main":   "telegram",
		"tg-backup": "telegram",
		"qq-1":      "aiocqhttp",
	}
	t, ok := types[platformID]
	return t, ok
})

func TestParseOrigin(t *testing.T) {
	t.Parallel()
	o, err := ParseOrigin("telegram:GroupMessage:42")
	if err != nil {
		t.Fatalf("ParseOrigin: %v", err)
	}
	if o.Platform != "telegram" || o.Kind != "GroupMessage" || o.ID != "42" {
		t.Fatalf("got %+v", o)
	}

	// Only the first two colons split; the id keeps the rest.
	o, err = ParseOrigin("satori:GroupMessage:guild:123:chan:9")
	if err != nil {
		t.Fatalf("ParseOrigin: %v", err)
	}
	if o.ID != "guild:123:chan:9" {
		t.Fatalf("id = %q", o.ID)
	}

	for _, bad := range []string{"", "telegram", "telegram:GroupMessage", "a::b", ":k:v"} {
		if _, err := ParseOrigin(bad); err == nil {
			t.Fatalf("ParseOrigin(%q): expected error", bad)
		}
	}
}

func TestEquivalent(t *testing.T) {
	t.Parallel()
	r := NewResolver(testDir, nil)

	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "telegram:GroupMessage:42", "telegram:GroupMessage:42", true},
		{"legacy vs instance id", "telegram:GroupMessage:42", "tg-main:GroupMessage:42", true},
		{"two instance ids same type", "tg-main:GroupMessage:42", "tg-backup:GroupMessage:42", true},
		{"different ids", "telegram:GroupMessage:42", "telegram:GroupMessage:43", false},
		{"different kinds", "telegram:GroupMessage:42", "telegram:FriendMessage:42", false},
		{"two different legacy names", "telegram:GroupMessage:42", "discord:GroupMessage:42", false},
		{"unresolvable instance id", "telegram:GroupMessage:42", "ghost:GroupMessage:42", false},
		{"legacy vs other-type instance", "telegram:GroupMessage:42", "qq-1:GroupMessage:42", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := r.Equivalent(tc.a, tc.b); got != tc.want {
				t.Fatalf("Equivalent(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
			if got := r.Equivalent(tc.b, tc.a); got != tc.want {
				t.Fatalf("Equivalent(%q, %q) = %v, want %v (not symmetric)", tc.b, tc.a, got, tc.want)
			}
		})
	}
}

func TestResolveAgainstExistingPartitions(t *testing.T) {
	t.Parallel()
	keys := []string{"telegram:GroupMessage:42", "discord:ChannelMessage:7"}
	r := NewResolver(testDir, func() []string { return keys })

	// A new-format origin for the same conversation resolves to the
	// existing legacy-format partition, so both spellings share one list.
	got, err := r.ResolveExisting("tg-main:GroupMessage:42")
	if err != nil {
		t.Fatalf("ResolveExisting: %v", err)
	}
	if got != "telegram:GroupMessage:42" {
		t.Fatalf("resolved to %q", got)
	}

	if _, err := r.ResolveExisting("telegram:GroupMessage:999"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("error = %v, want ErrUnknownSession", err)
	}

	// ResolveOrCreate falls back to the raw origin for first contact.
	if got := r.ResolveOrCreate("telegram:GroupMessage:999"); got != "telegram:GroupMessage:999" {
		t.Fatalf("ResolveOrCreate = %q", got)
	}
}

func TestResolveExistingPrefersExactKey(t *testing.T) {
	t.Parallel()
	// Both an exact key and a distinct equivalent key exist; the equivalent
	// one is listed first, so a single equivalence scan would return it.
	keys := []string{"telegram:GroupMessage:42", "tg-main:GroupMessage:42"}
	r := NewResolver(testDir, func() []string { return keys })

	got, err := r.ResolveExisting("tg-main:GroupMessage:42")
	if err != nil {
		t.Fatalf("ResolveExisting: %v", err)
	}
	if got != "tg-main:GroupMessage:42" {
		t.Fatalf("resolved to %q, want the exact key", got)
	}
}

func TestIsolationKey(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		raw     string
		creator string
		unique  bool
		want    string
	}{
		{"group with isolation", "telegram:GroupMessage:42", "7", true, "telegram:GroupMessage:42_7"},
		{"channel with isolation", "discord:ChannelMessage:c1", "7", true, "discord:ChannelMessage:c1_7"},
		{"chatroom id with isolation", "wechatferry:OtherMessage:x@chatroom", "7", true, "wechatferry:OtherMessage:x@chatroom_7"},
		{"private chat untouched", "telegram:FriendMessage:42", "7", true, "telegram:FriendMessage:42"},
		{"isolation off", "telegram:GroupMessage:42", "7", false, "telegram:GroupMessage:42"},
		{"already suffixed", "telegram:GroupMessage:42_7", "7", true, "telegram:GroupMessage:42_7"},
		{"no creator id", "telegram:GroupMessage:42", "", true, "telegram:GroupMessage:42"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsolationKey(tc.raw, tc.creator, tc.unique); got != tc.want {
				t.Fatalf("IsolationKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDeliveryKeyStripsIsolationSuffix(t *testing.T) {
	t.Parallel()
	cases := []struct {
		partition string
		want      string
	}{
		{"telegram:GroupMessage:42_7", "telegram:GroupMessage:42"},
		{"telegram:GroupMessage:42", "telegram:GroupMessage:42"},
		{"wechatferry:OtherMessage:x@chatroom_7", "wechatferry:OtherMessage:x@chatroom"},
		{"telegram:FriendMessage:user_name", "telegram:FriendMessage:user_name"},
	}
	for _, tc := range cases {
		if got := DeliveryKey(tc.partition); got != tc.want {
			t.Fatalf("DeliveryKey(%q) = %q, want %q", tc.partition, got, tc.want)
		}
	}
}

func TestIsolationThenDeliveryRoundTrip(t *testing.T) {
	t.Parallel()
	raw := "telegram:GroupMessage:42"
	iso := IsolationKey(raw, "7", true)
	if got := DeliveryKey(iso); got != raw {
		t.Fatalf("round trip: %q -> %q -> %q", raw, iso, got)
	}
}
