package keys

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUUIDIssuerProducesHexTokens(t *testing.T) {
	issuer := NewUUIDIssuer()

	key, err := issuer.Issue()
	require.NoError(t, err)
	require.Len(t, key, 32)
	require.Regexp(t, "^[0-9a-f]{32}$", key)
}

func TestUUIDIssuerIsUniqueUnderConcurrency(t *testing.T) {
	issuer := NewUUIDIssuer()
	const workers = 8
	const perWorker = 250

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key, err := issuer.Issue()
				if err != nil {
					t.Errorf("issue failed: %v", err)
					return
				}
				mu.Lock()
				seen[key] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
}
