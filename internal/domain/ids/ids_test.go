package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testULID = "01HYX3KQW7ERTV9XNBM2P8QJZF"

func TestGeneratorReturnsValid(t *testing.T) {
	value, err := NewGenerator().New()

	require.NoError(t, err)
	require.NoError(t, ValidateULID(value))
}

func TestGeneratorIsMonotonicWithinMillisecond(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	gen := NewGenerator()
	gen.now = func() time.Time { return fixed }

	prev := ""
	for i := 0; i < 100; i++ {
		id, err := gen.New()
		require.NoError(t, err)
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestGeneratorConcurrentUnique(t *testing.T) {
	gen := NewGenerator()

	const workers = 16
	const perWorker = 200

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := gen.New()
				require.NoError(t, err)
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
}

func TestTime(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	gen := NewGenerator()
	gen.now = func() time.Time { return fixed }

	id, err := gen.New()
	require.NoError(t, err)

	got, err := Time(id)
	require.NoError(t, err)
	require.True(t, got.Equal(fixed))

	_, err = Time("nope")
	require.ErrorIs(t, err, ErrInvalidULID)
}

func TestIsULIDAndValidateULID(t *testing.T) {
	require.True(t, IsULID(testULID))
	require.True(t, IsULID(" "+testULID+" "))
	require.NoError(t, ValidateULID(testULID))

	require.False(t, IsULID("not-a-ulid"))
	require.ErrorIs(t, ValidateULID("not-a-ulid"), ErrInvalidULID)
}
