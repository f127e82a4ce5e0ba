package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircularBuffer_WriteRead(t *testing.T) {
	buf := NewCircularBuffer[int](3)

	for i := 1; i <= 3; i++ {
		assert.NoError(t, buf.Write(i))
	}
	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, 3, buf.Capacity())

	v, ok := buf.Read()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []int{2, 3}, buf.ReadBatch(10))

	_, ok = buf.Read()
	assert.False(t, ok)
	assert.Nil(t, buf.ReadBatch(1))
}

func TestCircularBuffer_DropOldest(t *testing.T) {
	var dropped []int
	buf := NewCircularBuffer(3, WithDropCallback[int](func(item int) {
		dropped = append(dropped, item)
	}))

	for i := 1; i <= 5; i++ {
		assert.NoError(t, buf.Write(i))
	}

	assert.Equal(t, []int{3, 4, 5}, buf.Snapshot())
	assert.Equal(t, []int{1, 2}, dropped)

	stats := buf.Stats()
	assert.Equal(t, int64(5), stats.Writes)
	assert.Equal(t, int64(2), stats.Drops)
	assert.Equal(t, 3, stats.Size)
}

func TestCircularBuffer_DropNewest(t *testing.T) {
	var dropped []string
	buf := NewCircularBuffer(2,
		WithOverflowPolicy[string](DropNewest),
		WithDropCallback[string](func(item string) { dropped = append(dropped, item) }))

	for _, s := range []string{"a", "b", "c"} {
		assert.NoError(t, buf.Write(s))
	}

	assert.Equal(t, []string{"a", "b"}, buf.Snapshot())
	assert.Equal(t, []string{"c"}, dropped)
}

func TestCircularBuffer_SnapshotIsNonDestructive(t *testing.T) {
	buf := NewCircularBuffer[int](4)
	_ = buf.Write(1)
	_ = buf.Write(2)

	snap := buf.Snapshot()
	snap[0] = 99
	assert.Equal(t, []int{1, 2}, buf.Snapshot())
	assert.Equal(t, 2, buf.Size())
}

func TestCircularBuffer_CallbackMayReenter(t *testing.T) {
	var buf Buffer[int]
	sizes := []int{}
	buf = NewCircularBuffer(1, WithDropCallback[int](func(int) {
		sizes = append(sizes, buf.Size())
	}))

	_ = buf.Write(1)
	_ = buf.Write(2)
	assert.Equal(t, []int{1}, sizes)
}

func TestCircularBuffer_Clear(t *testing.T) {
	buf := NewCircularBuffer[int](0)
	assert.Equal(t, 1, buf.Capacity())

	_ = buf.Write(7)
	buf.Clear()
	assert.Equal(t, 0, buf.Size())
	assert.Empty(t, buf.Snapshot())
}

func TestCircularBuffer_Concurrent(t *testing.T) {
	buf := NewCircularBuffer[int](16)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = buf.Write(i)
				_ = buf.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, buf.Size())
	assert.Equal(t, int64(2000), buf.Stats().Writes)
	assert.Equal(t, int64(2000-16), buf.Stats().Drops)
}

func TestOverflowPolicy_String(t *testing.T) {
	assert.Equal(t, "DropOldest", DropOldest.String())
	assert.Equal(t, "DropNewest", DropNewest.String())
	assert.Equal(t, "Unknown", OverflowPolicy(9).String())
}
