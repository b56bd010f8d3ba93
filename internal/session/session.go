// Package session handles conversation identity: parsing
// "platform:kind:id" origin strings, deciding when two differently-written
// origins mean the same conversation, and deriving the storage partition
// key (optionally isolated per group member) and the delivery key.
package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSession is returned when no existing partition matches an origin.
var ErrUnknownSession = errors.New("no matching session")

// Origin is a parsed conversation identity. ID may itself contain colons;
// only the first two split.
type Origin struct {
	Platform string // platform name (legacy) or platform instance id
	Kind     string // conversation kind, e.g. GroupMessage
	ID       string // conversation id, possibly with an isolation suffix
}

func ParseOrigin(raw string) (Origin, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Origin{}, fmt.Errorf("malformed session origin %q, want platform:kind:id", raw)
	}
	return Origin{Platform: parts[0], Kind: parts[1], ID: parts[2]}, nil
}

func (o Origin) String() string {
	return o.Platform + ":" + o.Kind + ":" + o.ID
}

// LegacyPlatforms are the historical platform names that identify a
// platform type directly. Newer origins carry a platform instance id
// instead, which must be resolved through a Directory.
var LegacyPlatforms = map[string]bool{
	"aiocqhttp":               true,
	"qq_official":             true,
	"discord":                 true,
	"slack":                   true,
	"telegram":                true,
	"wechatmp":                true,
	"wechatferry":             true,
	"wecom":                   true,
	"weixin_official_account": true,
	"satori":                  true,
	"webchat":                 true,
}

// Directory resolves a platform instance id to its platform type name.
// Implementations are expected to answer from live platform state; lookups
// for unknown ids return ok=false.
type Directory interface {
	PlatformType(platformID string) (string, bool)
}

// DirectoryFunc adapts a function to the Directory interface.
type DirectoryFunc func(platformID string) (string, bool)

func (f DirectoryFunc) PlatformType(platformID string) (string, bool) { return f(platformID) }

// Resolver maps incoming origins onto the repository's existing partition
// keys so that the same conversation written in the legacy and the new
// format lands in one partition.
type Resolver struct {
	dir Directory
	// keys returns the repository's current partition keys.
	keys func() []string
}

func NewResolver(dir Directory, keys func() []string) *Resolver {
	if keys == nil {
		keys = func() []string { return nil }
	}
	return &Resolver{dir: dir, keys: keys}
}

// Equivalent reports whether two origin strings address the same
// conversation. Kind and id must match byte for byte; the platform parts
// match when they are identical, or when both resolve to the same platform
// type. Two different legacy names are never equivalent even if they would
// resolve alike.
func (r *Resolver) Equivalent(a, b string) bool {
	if a == b {
		return true
	}
	oa, err := ParseOrigin(a)
	if err != nil {
		return false
	}
	ob, err := ParseOrigin(b)
	if err != nil {
		return false
	}
	if oa.Kind != ob.Kind || oa.ID != ob.ID {
		return false
	}
	return r.samePlatform(oa.Platform, ob.Platform)
}

func (r *Resolver) samePlatform(a, b string) bool {
	if a == b {
		return true
	}
	if LegacyPlatforms[a] && LegacyPlatforms[b] {
		return false
	}
	ta, ok := r.platformType(a)
	if !ok {
		return false
	}
	tb, ok := r.platformType(b)
	if !ok {
		return false
	}
	return ta == tb
}

// platformType answers the platform type for either format: a legacy name
// is its own type, an instance id goes through the directory.
func (r *Resolver) platformType(p string) (string, bool) {
	if LegacyPlatforms[p] {
		return p, true
	}
	if r.dir != nil {
		return r.dir.PlatformType(p)
	}
	return "", false
}

// ResolveExisting finds the existing partition key for raw. An exact key
// wins over any merely equivalent one, so the equivalence scan only runs
// when no key matches byte for byte.
func (r *Resolver) ResolveExisting(raw string) (string, error) {
	keys := r.keys()
	for _, key := range keys {
		if key == raw {
			return key, nil
		}
	}
	for _, key := range keys {
		if r.Equivalent(raw, key) {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownSession, raw)
}

// ResolveOrCreate returns the equivalent existing partition key, or raw
// itself when this is the conversation's first item.
func (r *Resolver) ResolveOrCreate(raw string) string {
	if key, err := r.ResolveExisting(raw); err == nil {
		return key
	}
	return raw
}

// isolatingKinds are conversation kinds shared by multiple users, where
// per-user isolation makes sense.
var isolatingKinds = map[string]bool{
	"GroupMessage":   true,
	"ChannelMessage": true,
}

const chatroomMarker = "@chatroom"

func isolating(o Origin) bool {
	return isolatingKinds[o.Kind] || strings.Contains(o.ID, chatroomMarker)
}

// IsolationKey derives the storage partition key for an origin. With
// unique-session mode on, group and channel conversations get the creator
// id appended so each member keeps a private item list. Private chats and
// non-unique mode use the origin unchanged.
func IsolationKey(raw, creatorID string, unique bool) string {
	if !unique || creatorID == "" {
		return raw
	}
	o, err := ParseOrigin(raw)
	if err != nil {
		return raw
	}
	if !isolating(o) {
		return raw
	}
	if strings.HasSuffix(o.ID, "_"+creatorID) {
		return raw
	}
	o.ID = o.ID + "_" + creatorID
	return o.String()
}

// DeliveryKey strips the isolation suffix from a partition key, recovering
// the conversation id messages can actually be sent to.
func DeliveryKey(partition string) string {
	o, err := ParseOrigin(partition)
	if err != nil {
		return partition
	}
	if i := strings.Index(o.ID, chatroomMarker); i >= 0 {
		o.ID = o.ID[:i+len(chatroomMarker)]
		return o.String()
	}
	if !isolatingKinds[o.Kind] {
		return partition
	}
	if j := strings.LastIndex(o.ID, "_"); j > 0 {
		o.ID = o.ID[:j]
	}
	return o.String()
}
