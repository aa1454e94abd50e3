package idgen

import (
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflake_UniqueAndIncreasing(t *testing.T) {
	s := &Snowflake{workerID: 3}

	prev := int64(-1)
	for i := 0; i < 10000; i++ {
		id := s.Generate()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNextID_Concurrent(t *testing.T) {
	const workers, perWorker = 8, 500

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := NextID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestBusinessNumbers(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^WDR\d{14}\d{8}$`), GenerateWithdrawalNo())
	assert.Regexp(t, regexp.MustCompile(`^ERN\d{14}\d{8}$`), GenerateRunNo())
}

func TestGenerateReferralCode(t *testing.T) {
	code := GenerateReferralCode("Ayesha Khan")
	assert.True(t, strings.HasPrefix(code, "ayesha"))
	assert.Len(t, code, len("ayesha")+4)

	assert.True(t, strings.HasPrefix(GenerateReferralCode("  "), "user"))
	assert.True(t, strings.HasPrefix(GenerateReferralCode("O'Brien Smith"), "obrien"))
	assert.Regexp(t, regexp.MustCompile(`^[a-z0-9]+$`), GenerateReferralCode("Zoë 李"))
}
