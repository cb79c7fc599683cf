package lane

import (
	"errors"
	"strings"

	"github.com/gosimple/slug"
)

var ErrInvalidID = errors.New("invalid lane id")

const keyPrefix = "lane/"

type Kind string

const (
	KindJob      Kind = "job"
	KindRun      Kind = "run"
	KindLock     Kind = "lock"
	KindQuota    Kind = "quota"
	KindResults  Kind = "results"
	KindDeadline Kind = "tick"
)

// ID normalizes a lane name into its slug id.
func ID(name string) (string, error) {
	id := slug.Make(strings.TrimSpace(name))
	if id == "" {
		return "", ErrInvalidID
	}
	return id, nil
}

// Key returns the store key of a record. id must already be normalized.
func Key(id string, kind Kind) string {
	return keyPrefix + id + "/" + string(kind)
}

// parseKey splits a store key into lane id and kind.
func parseKey(key string) (string, Kind, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return "", "", false
	}
	id, kind, ok := strings.Cut(rest, "/")
	if !ok || id == "" || kind == "" {
		return "", "", false
	}
	return id, Kind(kind), true
}

// NormalizeTargets trims identifiers, drops empties and keeps the first
// occurrence of duplicates.
func NormalizeTargets(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
