package curvecare

import (
	"sort"
	"time"
)

// MergeMessages combines two message lists into one, de-duplicating by
// message ID. For IDs present in both lists the incoming record wins
// field-by-field, so a server-confirmed message overwrites an optimistic
// placeholder carrying the same ID. Records with parseable timestamps are
// ordered by ascending creation time; records with unparseable timestamps
// stay pinned to their insertion positions.
//
// The function is pure and idempotent: merging the same incoming list twice
// produces the same result.
func MergeMessages(existing, incoming []Message) []Message {
	out := make([]Message, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))

	for _, m := range existing {
		if i, ok := index[m.ID]; ok {
			out[i] = overlayMessage(out[i], m)
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	for _, m := range incoming {
		if i, ok := index[m.ID]; ok {
			out[i] = overlayMessage(out[i], m)
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}

	sortByCreatedAt(out)
	return out
}

type createdKey struct {
	ts  time.Time
	msg Message
}

// sortByCreatedAt orders the records with parseable timestamps ascending
// among themselves and writes them back over the slots they came from, so
// unparseable records never move and never shield out-of-order neighbors
// from comparison.
func sortByCreatedAt(msgs []Message) {
	pos := make([]int, 0, len(msgs))
	keyed := make([]createdKey, 0, len(msgs))
	for i, m := range msgs {
		if ts, ok := m.CreatedTime(); ok {
			pos = append(pos, i)
			keyed = append(keyed, createdKey{ts: ts, msg: m})
		}
	}
	sort.SliceStable(keyed, func(a, b int) bool {
		return keyed[a].ts.Before(keyed[b].ts)
	})
	for j, i := range pos {
		msgs[i] = keyed[j].msg
	}
}

// overlayMessage applies incoming on top of existing. Incoming takes
// precedence, but optional fields the incoming record does not carry are
// kept from the existing one (a server record without a clientId must not
// erase the one the optimistic placeholder was reconciled under).
func overlayMessage(existing, incoming Message) Message {
	merged := incoming
	if merged.ClientID == "" {
		merged.ClientID = existing.ClientID
	}
	if merged.GroupID == "" {
		merged.GroupID = existing.GroupID
	}
	if merged.SenderName == "" {
		merged.SenderName = existing.SenderName
	}
	if merged.MediaURL == "" {
		merged.MediaURL = existing.MediaURL
	}
	if merged.Kind == "" {
		merged.Kind = existing.Kind
	}
	if merged.Status == "" {
		merged.Status = existing.Status
	}
	if merged.CreatedAt == "" {
		merged.CreatedAt = existing.CreatedAt
	}
	return merged
}
