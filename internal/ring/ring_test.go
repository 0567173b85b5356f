package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer_AppendBelowCapacity(t *testing.T) {
	t.Parallel()

	b := New[int](4)
	b.Append(1)
	b.Append(2)

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 4, b.Cap())
	assert.Equal(t, []int{1, 2}, b.Snapshot())
}

func TestBuffer_EvictsOldestWhenFull(t *testing.T) {
	t.Parallel()

	b := New[int](3)
	for i := 1; i <= 5; i++ {
		b.Append(i)
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{3, 4, 5}, b.Snapshot())
}

func TestBuffer_WrapAroundKeepsOrder(t *testing.T) {
	t.Parallel()

	b := New[string](2)
	b.Append("a")
	b.Append("b")
	b.Append("c")
	b.Append("d")
	b.Append("e")

	assert.Equal(t, []string{"d", "e"}, b.Snapshot())
}

func TestBuffer_EmptySnapshot(t *testing.T) {
	t.Parallel()

	b := New[int](1)
	assert.Empty(t, b.Snapshot())
}

func TestNew_PanicsOnNonPositiveCapacity(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { New[int](0) })
}
