package usecase

import (
	"sort"

	"modchat/internal/domain/entity"
)

type MergeMode string

const (
	ModeReplace MergeMode = "replace"
	ModePrepend MergeMode = "prepend"
)

// MergeMessages combines a fetched page with the visible list. Incoming
// messages come first, so on duplicate ids the incoming copy wins; the
// result is sorted ascending by timestamp. Merging the same page twice
// yields the same list.
func MergeMessages(existing, incoming []entity.Message, mode MergeMode) []entity.Message {
	combined := make([]entity.Message, 0, len(incoming)+len(existing))
	combined = append(combined, incoming...)
	if mode == ModePrepend {
		combined = append(combined, existing...)
	}

	seen := make(map[string]struct{}, len(combined))
	out := combined[:0]
	for _, m := range combined {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
