package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsInt64(t *testing.T) {
	for _, v := range []any{int64(7), int(7), int32(7), uint64(7), float64(7)} {
		n, ok := AsInt64(v)
		assert.True(t, ok)
		assert.Equal(t, int64(7), n)
	}

	_, ok := AsInt64("7")
	assert.False(t, ok)
	_, ok = AsInt64(nil)
	assert.False(t, ok)
}

func TestAsInt64Slice_MixedWidths(t *testing.T) {
	// msgpack decodes list numerics with varying widths
	got := AsInt64Slice([]any{int64(1), uint64(2), float64(3), "skip", nil})
	assert.Equal(t, []int64{1, 2, 3}, got)

	assert.Nil(t, AsInt64Slice("not a list"))
	assert.Nil(t, AsInt64Slice(nil))
}

func TestAsStringSlice(t *testing.T) {
	got := AsStringSlice([]any{"@alice", "@bob", int64(5)})
	assert.Equal(t, []string{"@alice", "@bob"}, got)
	assert.Nil(t, AsStringSlice(nil))
}

func TestAsBool(t *testing.T) {
	assert.True(t, AsBool(true))
	assert.True(t, AsBool(int64(1)))
	assert.True(t, AsBool(float64(1)))
	assert.False(t, AsBool(int64(0)))
	assert.False(t, AsBool(false))
	assert.False(t, AsBool(nil))
	assert.False(t, AsBool("true"))
}

func TestChanged(t *testing.T) {
	ev := &ChangeEvent{Diff: []string{"ptime", "tags"}}
	assert.True(t, ev.Changed("ptime"))
	assert.False(t, ev.Changed("user_ids"))
}

func TestChannelFor(t *testing.T) {
	assert.Equal(t, ChannelSocket, ChannelFor(MethodWebSocket))
	for _, m := range []string{MethodFCM, MethodAPNS, MethodAPNSSandbox, MethodWNS} {
		assert.Equal(t, ChannelPush, ChannelFor(m))
	}
}
