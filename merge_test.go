package curvecare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, createdAt string) Message {
	return Message{ID: id, SenderID: "u1", Text: "m-" + id, Kind: KindText, CreatedAt: createdAt}
}

func TestMergeMessages(t *testing.T) {
	t.Run("unions disjoint sets", func(t *testing.T) {
		existing := []Message{msg("a", "2026-01-01T10:00:00Z")}
		incoming := []Message{msg("b", "2026-01-01T11:00:00Z")}

		merged := MergeMessages(existing, incoming)

		require.Len(t, merged, 2)
		assert.Equal(t, "a", merged[0].ID)
		assert.Equal(t, "b", merged[1].ID)
	})

	t.Run("incoming wins on shared ID", func(t *testing.T) {
		existing := []Message{{ID: "a", Text: "old", Edited: false, CreatedAt: "2026-01-01T10:00:00Z"}}
		incoming := []Message{{ID: "a", Text: "new", Edited: true, CreatedAt: "2026-01-01T10:00:00Z"}}

		merged := MergeMessages(existing, incoming)

		require.Len(t, merged, 1)
		assert.Equal(t, "new", merged[0].Text)
		assert.True(t, merged[0].Edited)
	})

	t.Run("keeps existing fields absent from incoming", func(t *testing.T) {
		existing := []Message{{ID: "a", Text: "old", ClientID: "c-1", SenderName: "Mia", Status: StatusConfirmed, CreatedAt: "2026-01-01T10:00:00Z"}}
		incoming := []Message{{ID: "a", Text: "edited", CreatedAt: "2026-01-01T10:00:00Z"}}

		merged := MergeMessages(existing, incoming)

		require.Len(t, merged, 1)
		assert.Equal(t, "edited", merged[0].Text)
		assert.Equal(t, "c-1", merged[0].ClientID)
		assert.Equal(t, "Mia", merged[0].SenderName)
		assert.Equal(t, StatusConfirmed, merged[0].Status)
	})

	t.Run("sorts by creation time ascending", func(t *testing.T) {
		existing := []Message{msg("c", "2026-01-01T12:00:00Z")}
		incoming := []Message{msg("a", "2026-01-01T10:00:00Z"), msg("b", "2026-01-01T11:00:00Z")}

		merged := MergeMessages(existing, incoming)

		require.Len(t, merged, 3)
		assert.Equal(t, []string{merged[0].ID, merged[1].ID, merged[2].ID}, []string{"a", "b", "c"})
	})

	t.Run("unparseable timestamps keep relative order", func(t *testing.T) {
		existing := []Message{msg("x", "not-a-date"), msg("y", "also-bad")}
		incoming := []Message{msg("z", "garbage")}

		merged := MergeMessages(existing, incoming)

		require.Len(t, merged, 3)
		// Stable sort with incomparable keys must not reorder.
		assert.Equal(t, "x", merged[0].ID)
		assert.Equal(t, "y", merged[1].ID)
		assert.Equal(t, "z", merged[2].ID)
	})

	t.Run("mixed parseable and unparseable", func(t *testing.T) {
		existing := []Message{msg("bad", "???"), msg("late", "2026-01-02T00:00:00Z")}
		incoming := []Message{msg("early", "2026-01-01T00:00:00Z")}

		merged := MergeMessages(existing, incoming)

		require.Len(t, merged, 3)
		// "bad" stays pinned at its insertion slot; the parseable records
		// sort among themselves.
		assert.Equal(t, "bad", merged[0].ID)
		assert.Equal(t, "early", merged[1].ID)
		assert.Equal(t, "late", merged[2].ID)
	})

	t.Run("unparseable record between out-of-order parseable ones", func(t *testing.T) {
		existing := []Message{
			msg("late", "2026-01-02T00:00:00Z"),
			msg("bad", "???"),
			msg("early", "2026-01-01T00:00:00Z"),
		}

		merged := MergeMessages(existing, nil)

		require.Len(t, merged, 3)
		// The unparseable record must not shield its neighbors from each
		// other: "early" and "late" still end up in creation-time order.
		assert.Equal(t, "early", merged[0].ID)
		assert.Equal(t, "bad", merged[1].ID)
		assert.Equal(t, "late", merged[2].ID)
	})

	t.Run("idempotent", func(t *testing.T) {
		existing := []Message{msg("a", "2026-01-01T10:00:00Z"), msg("b", "2026-01-01T11:00:00Z")}

		once := MergeMessages(existing, existing)
		twice := MergeMessages(once, existing)

		assert.Equal(t, once, twice)
		assert.Len(t, twice, 2)
	})

	t.Run("nil existing", func(t *testing.T) {
		merged := MergeMessages(nil, []Message{msg("a", "2026-01-01T10:00:00Z")})
		require.Len(t, merged, 1)
	})

	t.Run("nil incoming preserves existing", func(t *testing.T) {
		existing := []Message{msg("a", "2026-01-01T10:00:00Z")}
		merged := MergeMessages(existing, nil)
		assert.Equal(t, existing, merged)
	})

	t.Run("does not mutate inputs", func(t *testing.T) {
		existing := []Message{msg("b", "2026-01-01T11:00:00Z"), msg("a", "2026-01-01T10:00:00Z")}
		incoming := []Message{{ID: "b", Text: "changed", CreatedAt: "2026-01-01T11:00:00Z"}}

		_ = MergeMessages(existing, incoming)

		assert.Equal(t, "m-b", existing[0].Text)
		assert.Equal(t, "b", existing[0].ID)
	})
}

func TestOverlayMessage(t *testing.T) {
	t.Run("zero status does not clobber confirmed", func(t *testing.T) {
		existing := Message{ID: "a", Status: StatusConfirmed}
		incoming := Message{ID: "a", Text: "hi"}

		out := overlayMessage(existing, incoming)

		assert.Equal(t, StatusConfirmed, out.Status)
		assert.Equal(t, "hi", out.Text)
	})

	t.Run("explicit status wins", func(t *testing.T) {
		existing := Message{ID: "a", Status: StatusPending}
		incoming := Message{ID: "a", Status: StatusConfirmed}

		out := overlayMessage(existing, incoming)

		assert.Equal(t, StatusConfirmed, out.Status)
	})

	t.Run("deleted flag from incoming always applies", func(t *testing.T) {
		existing := Message{ID: "a", Text: "hello", Deleted: false}
		incoming := Message{ID: "a", Text: "hello", Deleted: true}

		out := overlayMessage(existing, incoming)

		assert.True(t, out.Deleted)
	})
}
