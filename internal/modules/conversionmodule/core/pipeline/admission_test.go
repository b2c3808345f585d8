package pipeline

import (
	"testing"

	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"
	"github.com/stretchr/testify/assert"
)

func TestAdmission_AcquireRelease(t *testing.T) {
	a := newAdmission(2)

	assert.True(t, a.tryAcquire())
	assert.True(t, a.tryAcquire())
	assert.False(t, a.tryAcquire(), "third acquire must fail with two permits")

	assert.False(t, a.release())
	available, held, pending := a.stats()
	assert.Equal(t, 1, available)
	assert.Equal(t, 1, held)
	assert.Equal(t, 0, pending)
}

func TestAdmission_RetireTakesFreePermitsFirst(t *testing.T) {
	a := newAdmission(4)
	assert.True(t, a.tryAcquire())
	assert.True(t, a.tryAcquire())

	// Two free, two held: shrinking by three retires both free permits now and
	// leaves one retirement pending on a held permit.
	a.retire(3)
	available, held, pending := a.stats()
	assert.Equal(t, 0, available)
	assert.Equal(t, 2, held)
	assert.Equal(t, 1, pending)

	assert.True(t, a.release(), "first release satisfies the pending retirement")
	assert.False(t, a.release(), "second release returns to the pool")

	available, held, pending = a.stats()
	assert.Equal(t, 1, available)
	assert.Equal(t, 0, held)
	assert.Equal(t, 0, pending)
}

func TestAdmission_AddCancelsPendingRetirement(t *testing.T) {
	a := newAdmission(2)
	assert.True(t, a.tryAcquire())
	assert.True(t, a.tryAcquire())

	a.retire(2)
	_, _, pending := a.stats()
	assert.Equal(t, 2, pending)

	a.add(3)
	available, held, pending := a.stats()
	assert.Equal(t, 1, available)
	assert.Equal(t, 2, held)
	assert.Equal(t, 0, pending)
}

func TestAdmission_ZeroPermits(t *testing.T) {
	a := newAdmission(-1)
	assert.False(t, a.tryAcquire())

	a.add(1)
	assert.True(t, a.tryAcquire())
}

func TestJobQueue_RemovePreservesOrder(t *testing.T) {
	q := newJobQueue()
	q.push(types.Job{ID: "a"}, types.Job{ID: "b"}, types.Job{ID: "c"}, types.Job{ID: "d"})

	removed, ok := q.remove("b")
	assert.True(t, ok)
	assert.Equal(t, "b", removed.ID)
	assert.Equal(t, []string{"a", "c", "d"}, q.ids())

	_, ok = q.remove("missing")
	assert.False(t, ok)

	head, ok := q.pop()
	assert.True(t, ok)
	assert.Equal(t, "a", head.ID)

	drained := q.drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, q.len())

	_, ok = q.pop()
	assert.False(t, ok)
}
