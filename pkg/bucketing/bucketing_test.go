package bucketing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash("user-42", "exp-1")
	b := Hash("user-42", "exp-1")
	assert.Equal(t, a, b)
}

func TestHashRange(t *testing.T) {
	for i := 0; i < 10000; i++ {
		v := Hash(fmt.Sprintf("user-%d", i), "exp-1")
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestHashIndependentPerExperiment(t *testing.T) {
	// The same user lands in different buckets for different experiments,
	// at least for the vast majority of pairs.
	same := 0
	for i := 0; i < 1000; i++ {
		user := fmt.Sprintf("user-%d", i)
		if Hash(user, "exp-a") == Hash(user, "exp-b") {
			same++
		}
	}
	assert.Less(t, same, 5)
}

func TestHashDistribution(t *testing.T) {
	// With 100k users split into 10 deciles, each decile should hold
	// roughly 10k. Allow 10% relative deviation.
	const users = 100000
	buckets := make([]int, 10)
	for i := 0; i < users; i++ {
		v := Hash(fmt.Sprintf("user-%d", i), "exp-dist")
		buckets[int(v*10)]++
	}

	for d, count := range buckets {
		assert.InDelta(t, users/10, count, users/100, "decile %d", d)
	}
}

func TestFixed(t *testing.T) {
	b := Fixed(0.42)
	assert.Equal(t, 0.42, b("anyone", "anywhere"))
	assert.Equal(t, 0.42, b("someone", "elsewhere"))
}

func TestInBucket(t *testing.T) {
	assert.True(t, InBucket("user-1", "exp-1", 100))
	assert.False(t, InBucket("user-1", "exp-1", 0))

	// Consistent with Hash.
	v := Hash("user-7", "exp-7")
	assert.Equal(t, v*100 < 50, InBucket("user-7", "exp-7", 50))
}
