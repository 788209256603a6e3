// Package featureflags evaluates the rollout flags that gate optional
// surfaces such as message search and story replies.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

type flagKind int

const (
	flagOff flagKind = iota
	flagOn
	flagPercent
)

type flagValue struct {
	kind    flagKind
	percent int
	raw     string
}

// Manager evaluates feature flags defined in a simple key=value list, the
// shape FEATURE_FLAGS arrives in.
// Example: "message_search=on,story_replies=25%,story_viewers=off"
type Manager struct {
	flags map[string]flagValue
}

// NewManager parses a comma-separated flag list. Malformed pairs and
// unrecognized values are dropped rather than failing startup.
func NewManager(raw string) *Manager {
	out := make(map[string]flagValue)

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := normalize(parts[0])
		value, ok := parseValue(normalize(parts[1]))
		if key == "" || !ok {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// parseValue maps a configured value onto a flag kind. Supported values:
// on/true/1, off/false/0, and N% for a deterministic per-user rollout.
func parseValue(s string) (flagValue, bool) {
	switch s {
	case "on", "true", "1":
		return flagValue{kind: flagOn, raw: s}, true
	case "off", "false", "0":
		return flagValue{kind: flagOff, raw: s}, true
	}
	if strings.HasSuffix(s, "%") {
		pct, err := strconv.Atoi(strings.TrimSuffix(s, "%"))
		if err != nil || pct < 0 {
			return flagValue{}, false
		}
		return flagValue{kind: flagPercent, percent: pct, raw: s}, true
	}
	return flagValue{}, false
}

// Enabled reports whether a flag is on for the given user. Unknown flags
// are off, so a gated handler fails closed when the flag is not configured.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value.kind {
	case flagOn:
		return true
	case flagOff:
		return false
	}

	if value.percent <= 0 {
		return false
	}
	if value.percent >= 100 {
		return true
	}
	if userID == 0 {
		return false
	}
	return rolloutBucket(name, userID) < value.percent
}

// Raw returns the configured flags as they were written, for the flags
// admin view.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v.raw
	}
	return out
}

// Snapshot evaluates every flag for one user. This is what GET /api/flags
// returns so clients can gate their UI in a single round trip.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// rolloutBucket hashes (flag, user) into 0..99 so a percentage rollout is
// stable per user and uncorrelated across flags.
func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", normalize(name), userID)))
	return int(h.Sum32() % 100)
}
