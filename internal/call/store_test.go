package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetOrCreateIdempotent(t *testing.T) {
	s := NewStore()
	now := time.Now()

	c1 := s.GetOrCreate("call-1", "15551234", now)
	c2 := s.GetOrCreate("call-1", "other", now.Add(time.Hour))

	assert.Same(t, c1, c2)
	assert.Equal(t, "15551234", c2.Number)
	assert.Equal(t, 1, s.Count())
}

func TestStoreResolvesThroughIndexes(t *testing.T) {
	s := NewStore()
	c := s.GetOrCreate("call-1", "15551234", time.Now())

	s.BindChannel(c, "ch-1")
	s.BindBridge(c, "br-1")
	s.BindLinkedID(c, "lk-1")

	assert.Same(t, c, s.ByChannel("ch-1"))
	assert.Same(t, c, s.ByBridge("br-1"))
	assert.Same(t, c, s.ByLinkedID("lk-1"))
	assert.Nil(t, s.ByChannel("nope"))
	assert.Nil(t, s.ByLinkedID(""))
}

func TestStoreLinkedIDMirrorScan(t *testing.T) {
	s := NewStore()
	c := s.GetOrCreate("call-1", "15551234", time.Now())

	// A linked id present only on the call's mirror set still resolves.
	c.LinkedIDs["lk-extra"] = struct{}{}

	assert.Same(t, c, s.ByLinkedID("lk-extra"))
}

func TestStoreBindIgnoresEmptyKeys(t *testing.T) {
	s := NewStore()
	c := s.GetOrCreate("call-1", "15551234", time.Now())

	s.BindChannel(c, "")
	s.BindBridge(c, "")
	s.BindLinkedID(c, "")

	assert.Empty(t, c.Channels)
	assert.Empty(t, c.Bridges)
	assert.Empty(t, c.LinkedIDs)
}

func TestStorePurgeIsTotal(t *testing.T) {
	s := NewStore()
	c := s.GetOrCreate("call-1", "15551234", time.Now())

	s.BindChannel(c, "ch-1")
	s.BindChannel(c, "ch-2")
	s.BindBridge(c, "br-1")
	s.BindLinkedID(c, "lk-1")

	// Simulate a destroyed channel whose index entry lingers.
	s.UnbindChannel(c, "ch-2")
	s.byChannel["ch-straggler"] = "call-1"

	purged := s.Purge("call-1")
	require.Same(t, c, purged)

	assert.Equal(t, 0, s.Count())
	assert.Nil(t, s.ByChannel("ch-1"))
	assert.Nil(t, s.ByChannel("ch-straggler"))
	assert.Nil(t, s.ByBridge("br-1"))
	assert.Nil(t, s.ByLinkedID("lk-1"))

	assert.Nil(t, s.Purge("call-1"))
}
