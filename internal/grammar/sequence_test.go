package grammar

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJackSequence_Accept(t *testing.T) {
	t.Run("sequential claims", func(t *testing.T) {
		seq := NewJackSequence()
		assert.True(t, seq.Accept("dsg3#1", 1))
		assert.True(t, seq.Accept("dsg3#1", 2))
		assert.True(t, seq.Accept("dsg3#1", 3))
		assert.Equal(t, 3, seq.Highest("dsg3#1"))

		assert.False(t, seq.Accept("dsg3#1", 5))
		assert.False(t, seq.Accept("dsg3#1", 10))
		assert.Equal(t, 3, seq.Highest("dsg3#1"))

		assert.True(t, seq.Accept("dsg3#1", 4))
		assert.True(t, seq.Accept("dsg3#1", 5))
	})

	t.Run("fresh instance must start at one", func(t *testing.T) {
		seq := NewJackSequence()
		assert.False(t, seq.Accept("angles#2", 2))
		assert.Equal(t, 0, seq.Highest("angles#2"))
		assert.True(t, seq.Accept("angles#2", 1))
	})

	t.Run("re-use of lower index", func(t *testing.T) {
		seq := NewJackSequence()
		assert.True(t, seq.Accept("x#1", 1))
		assert.True(t, seq.Accept("x#1", 2))
		for i := 0; i < 5; i++ {
			assert.True(t, seq.Accept("x#1", 1))
			assert.True(t, seq.Accept("x#1", 2))
		}
		assert.Equal(t, 2, seq.Highest("x#1"))
	})

	t.Run("instances are independent", func(t *testing.T) {
		seq := NewJackSequence()
		assert.True(t, seq.Accept("x#1", 1))
		assert.True(t, seq.Accept("x#1", 2))
		assert.False(t, seq.Accept("x#2", 2))
		assert.Equal(t, 1, seq.Len(), "a rejected first jack records nothing")
		assert.Equal(t, 0, seq.Highest("x#2"))
		assert.True(t, seq.Accept("x#2", 1))
		assert.Equal(t, 2, seq.Len())
	})

	t.Run("rejects non positive", func(t *testing.T) {
		seq := NewJackSequence()
		assert.False(t, seq.Accept("x#1", 0))
		assert.False(t, seq.Accept("x#1", -1))
	})
}

func TestJackSequence_Concurrent(t *testing.T) {
	seq := NewJackSequence()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jack := 1; jack <= 50; jack++ {
				seq.Accept("x#1", jack)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, seq.Highest("x#1"))
}
