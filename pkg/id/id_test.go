package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsOrdered(t *testing.T) {
	t.Parallel()

	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestPrefixes(t *testing.T) {
	t.Parallel()

	assert.True(t, strings.HasPrefix(Proposal(), "prop_"))
	assert.True(t, strings.HasPrefix(Instance(), "blk_"))
	assert.Len(t, New(), 26)
}

func TestTime(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	ts, err := Time(Proposal())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Time("prop_not-a-ulid")
	assert.Error(t, err)
}
