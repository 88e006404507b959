package syncstate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ID
		ok    bool
	}{
		{
			name:  "three parts",
			input: "signal:messages:+15551234567",
			want:  ID{Platform: "signal", Source: "messages", Scope: "+15551234567"},
			ok:    true,
		},
		{
			name:  "scope keeps its colons",
			input: "gmail:INBOX:folder:deep:path",
			want:  ID{Platform: "gmail", Source: "INBOX", Scope: "folder:deep:path"},
			ok:    true,
		},
		{
			name:  "two parts",
			input: "signal:messages",
			ok:    false,
		},
		{
			name:  "one part",
			input: "signal",
			ok:    false,
		},
		{
			name:  "empty",
			input: "",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseID(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIDRoundTrip(t *testing.T) {
	id := NewID("discord", "guild_42", "chan:general")
	parsed, ok := ParseID(id.String())
	require.True(t, ok)
	assert.Equal(t, id, parsed)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		prev Watermark
		next Watermark
		want int
	}{
		{"timestamp advance", Timestamp(100), Timestamp(200), 1},
		{"timestamp equal", Timestamp(100), Timestamp(100), 0},
		{"timestamp regression", Timestamp(200), Timestamp(100), -1},

		{"message_id by timestamp", MessageID("m1", 100), MessageID("m2", 200), 1},
		{"message_id same id", MessageID("m1", 100), MessageID("m1", 100), 0},
		{"message_id timestamp regression", MessageID("m2", 200), MessageID("m1", 100), -1},
		{"message_id tie broken by id", MessageID("m1", 100), MessageID("m2", 100), 1},
		{"message_id tie regression", MessageID("m2", 100), MessageID("m1", 100), -1},
		{"message_id no timestamps trusts delivery order", MessageID("m9", 0), MessageID("m2", 0), 1},

		{"uid advance", UID(1049, 7), UID(1050, 7), 1},
		{"uid equal", UID(1050, 7), UID(1050, 7), 0},
		{"uid regression", UID(1050, 7), UID(1049, 7), -1},
		{"uid validity change is a new generation", UID(9000, 7), UID(1, 8), 1},

		{"sequence advance", Sequence(5), Sequence(6), 1},
		{"sequence replay", Sequence(5), Sequence(5), 0},
		{"sequence regression", Sequence(6), Sequence(5), -1},

		{"cursor change", Cursor("abc"), Cursor("def"), 1},
		{"cursor same token", Cursor("abc"), Cursor("abc"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.prev, tt.next)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareTypeMismatch(t *testing.T) {
	_, err := Compare(Timestamp(100), Sequence(5))
	require.Error(t, err)
}

func TestCompareComposite(t *testing.T) {
	prev := Composite(map[string]Watermark{
		"chan_a": MessageID("10", 100),
		"chan_b": MessageID("20", 200),
	})

	t.Run("one key advances", func(t *testing.T) {
		next := Composite(map[string]Watermark{
			"chan_a": MessageID("11", 150),
		})
		got, err := Compare(prev, next)
		require.NoError(t, err)
		assert.Equal(t, 1, got)
	})

	t.Run("new key is progress", func(t *testing.T) {
		next := Composite(map[string]Watermark{
			"chan_c": MessageID("1", 50),
		})
		got, err := Compare(prev, next)
		require.NoError(t, err)
		assert.Equal(t, 1, got)
	})

	t.Run("same positions", func(t *testing.T) {
		next := Composite(map[string]Watermark{
			"chan_a": MessageID("10", 100),
		})
		got, err := Compare(prev, next)
		require.NoError(t, err)
		assert.Equal(t, 0, got)
	})

	t.Run("any key behind rejects the whole advance", func(t *testing.T) {
		next := Composite(map[string]Watermark{
			"chan_a": MessageID("11", 150),
			"chan_b": MessageID("19", 150),
		})
		got, err := Compare(prev, next)
		require.NoError(t, err)
		assert.Equal(t, -1, got)
	})
}

func TestWatermarkValidate(t *testing.T) {
	assert.NoError(t, Timestamp(1).Validate())
	assert.NoError(t, Cursor("tok").Validate())
	assert.Error(t, Watermark{Type: "bogus"}.Validate())
	assert.Error(t, Watermark{}.Validate())
}

func TestWatermarkCanonicalJSON(t *testing.T) {
	wm := Composite(map[string]Watermark{
		"zeta":  Sequence(3),
		"alpha": Timestamp(1700000000000),
	})

	first, err := json.Marshal(wm)
	require.NoError(t, err)
	second, err := json.Marshal(wm)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Map keys serialize sorted, so equal values give equal bytes
	assert.Equal(t,
		`{"type":"composite","composite":{"alpha":{"type":"timestamp","timestamp":1700000000000},"zeta":{"type":"sequence","sequence":3}}}`,
		string(first))

	var decoded Watermark
	require.NoError(t, json.Unmarshal(first, &decoded))
	assert.Equal(t, wm, decoded)
}

func TestWatermarkInactiveFieldsOmitted(t *testing.T) {
	raw, err := json.Marshal(UID(1050, 987))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"uid","uid":1050,"uid_validity":987}`, string(raw))
}
