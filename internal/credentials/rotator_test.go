package credentials_test

import (
	"sync"
	"testing"

	"github.com/book-expert/tts-pipeline/internal/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotator_NextVisitsPoolInLoadOrder(t *testing.T) {
	t.Parallel()

	keys := []string{"key-aaaa", "key-bbbb", "key-cccc"}
	rotator := credentials.NewRotator(keys)

	for round := 0; round < 3; round++ {
		for position, want := range keys {
			cred, ok := rotator.Next()
			require.True(t, ok)
			assert.Equal(t, want, cred.Value)
			assert.Equal(t, position+1, cred.Index)
		}
	}
}

func TestRotator_FullCycleFromMidPool(t *testing.T) {
	t.Parallel()

	keys := []string{"a1", "b2", "c3", "d4"}
	rotator := credentials.NewRotator(keys)

	_, _ = rotator.Next()
	_, _ = rotator.Next()

	seen := make([]string, 0, len(keys))

	for range keys {
		cred, ok := rotator.Next()
		require.True(t, ok)

		seen = append(seen, cred.Value)
	}

	assert.Equal(t, []string{"c3", "d4", "a1", "b2"}, seen)
}

func TestRotator_EmptyPool(t *testing.T) {
	t.Parallel()

	rotator := credentials.NewRotator(nil)

	cred, ok := rotator.Next()
	assert.False(t, ok)
	assert.Empty(t, cred.Value)
	assert.Equal(t, 0, rotator.Size())
}

func TestRotator_CopiesInput(t *testing.T) {
	t.Parallel()

	keys := []string{"first", "second"}
	rotator := credentials.NewRotator(keys)
	keys[0] = "mutated"

	cred, ok := rotator.Next()
	require.True(t, ok)
	assert.Equal(t, "first", cred.Value)
}

func TestRotator_ConcurrentFairness(t *testing.T) {
	t.Parallel()

	const (
		workers     = 16
		callsPerJob = 30
	)

	keys := []string{"k1", "k2", "k3"}
	rotator := credentials.NewRotator(keys)

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		counts    = make(map[string]int)
	)

	for range workers {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			for range callsPerJob {
				cred, ok := rotator.Next()
				if !ok {
					continue
				}

				mutex.Lock()
				counts[cred.Value]++
				mutex.Unlock()
			}
		}()
	}

	waitGroup.Wait()

	total := workers * callsPerJob
	for _, key := range keys {
		assert.Equal(t, total/len(keys), counts[key], "credential %s", key)
	}
}

func TestCredential_Masked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "long key", value: "AIzaSyExample1234", want: "...1234"},
		{name: "exactly four", value: "abcd", want: "****"},
		{name: "short", value: "ab", want: "**"},
		{name: "empty", value: "", want: ""},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cred := credentials.Credential{Value: testCase.value, Index: 1}
			assert.Equal(t, testCase.want, cred.Masked())
		})
	}
}
