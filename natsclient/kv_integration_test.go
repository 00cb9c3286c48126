//go:build integration

package natsclient

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStore_Integration(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	bucket, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "units_test"})
	require.NoError(t, err)
	kv := tc.Client.NewKVStore(bucket)

	_, err = kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	rev, err := kv.Create(ctx, "a", []byte("1"))
	require.NoError(t, err)
	_, err = kv.Create(ctx, "a", []byte("2"))
	assert.ErrorIs(t, err, ErrKVKeyExists)

	_, err = kv.Update(ctx, "a", []byte("3"), rev+10)
	assert.ErrorIs(t, err, ErrKVRevisionMismatch)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, kv.UpdateWithRetry(ctx, "counter", func(cur []byte) ([]byte, error) {
				n, _ := strconv.Atoi(string(cur))
				return []byte(strconv.Itoa(n + 1)), nil
			}))
		}()
	}
	wg.Wait()

	entry, err := kv.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "8", string(entry.Value))

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "counter"}, keys)

	require.NoError(t, kv.Delete(ctx, "a"))

	// reopening an existing bucket is not an error
	_, err = tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "units_test"})
	assert.NoError(t, err)

	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt.Nanoseconds(), int64(0))
}
