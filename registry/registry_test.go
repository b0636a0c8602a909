package registry_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/memfixture/registry"
)

func rec(owner, pid int, port uint16) registry.Record {
	return registry.Record{
		OwnerPID:  owner,
		PID:       pid,
		Port:      port,
		Addr:      "127.0.0.1",
		StartedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func ports(recs []registry.Record) []uint16 {
	out := make([]uint16, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Port)
	}

	return out
}

func TestNew_default_capacity(t *testing.T) {
	t.Parallel()

	reg := registry.New(42, 0)

	assert.Equal(t, registry.DefaultCapacity, reg.Cap())
	assert.Equal(t, 42, reg.Owner())
	assert.Zero(t, reg.Len())
	assert.False(t, reg.Full())
}

func TestAppend_and_At(t *testing.T) {
	t.Parallel()

	reg := registry.New(1, 3)

	require.NoError(t, reg.Append(rec(1, 100, 30001)))
	require.NoError(t, reg.Append(rec(1, 101, 30002)))

	got, ok := reg.At(1)
	require.True(t, ok)
	assert.Equal(t, 101, got.PID)

	_, ok = reg.At(2)
	assert.False(t, ok)

	_, ok = reg.At(-1)
	assert.False(t, ok)
}

func TestAppend_capacity(t *testing.T) {
	t.Parallel()

	reg := registry.New(1, 2)

	require.NoError(t, reg.Append(rec(1, 100, 30001)))
	require.NoError(t, reg.Append(rec(1, 101, 30002)))
	assert.True(t, reg.Full())

	err := reg.Append(rec(1, 102, 30003))

	require.ErrorIs(t, err, registry.ErrCapacity)
	assert.Equal(t, 2, reg.Len())
}

func TestRemoveAt_swaps_last_into_slot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		remove int
		want   []uint16
	}{
		{name: "first", remove: 0, want: []uint16{4, 2, 3}},
		{name: "middle", remove: 1, want: []uint16{1, 4, 3}},
		{name: "last", remove: 3, want: []uint16{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg := registry.New(1, 0)
			for p := uint16(1); p <= 4; p++ {
				require.NoError(t, reg.Append(rec(1, int(p), p)))
			}

			removed, ok := reg.RemoveAt(tt.remove)

			require.True(t, ok)
			assert.Equal(t, uint16(tt.remove+1), removed.Port) //nolint:gosec // small test values
			assert.Equal(t, tt.want, ports(reg.Records()))
		})
	}
}

func TestRemoveAt_out_of_range(t *testing.T) {
	t.Parallel()

	reg := registry.New(1, 0)

	_, ok := reg.RemoveAt(0)
	assert.False(t, ok)
}

func TestRemovePort(t *testing.T) {
	t.Parallel()

	reg := registry.New(1, 0)
	require.NoError(t, reg.Append(rec(1, 10, 30010)))
	require.NoError(t, reg.Append(rec(1, 11, 30011)))
	require.NoError(t, reg.Append(rec(1, 12, 30012)))

	assert.Equal(t, 1, reg.IndexOfPort(30011))
	assert.Equal(t, -1, reg.IndexOfPort(1))

	removed, ok := reg.RemovePort(30011)
	require.True(t, ok)
	assert.Equal(t, 11, removed.PID)
	assert.Equal(t, []uint16{30010, 30012}, ports(reg.Records()))

	_, ok = reg.RemovePort(30011)
	assert.False(t, ok)
}

func TestIndexOfPort_first_match_on_collision(t *testing.T) {
	t.Parallel()

	reg := registry.New(1, 0)
	require.NoError(t, reg.Append(rec(1, 10, 30010)))
	require.NoError(t, reg.Append(rec(1, 11, 30010)))

	assert.Equal(t, 0, reg.IndexOfPort(30010))
}

func TestOwned(t *testing.T) {
	t.Parallel()

	reg := registry.New(1, 0)
	require.NoError(t, reg.Append(rec(1, 10, 30010)))
	require.NoError(t, reg.Append(rec(2, 11, 30011)))
	require.NoError(t, reg.Append(rec(1, 12, 30012)))

	assert.Equal(t, []uint16{30010, 30012}, ports(reg.Owned(1)))
	assert.Equal(t, []uint16{30011}, ports(reg.Owned(2)))
	assert.Empty(t, reg.Owned(3))
}

func TestRecords_returns_copy(t *testing.T) {
	t.Parallel()

	reg := registry.New(1, 0)
	require.NoError(t, reg.Append(rec(1, 10, 30010)))

	recs := reg.Records()
	recs[0].Port = 1

	got, _ := reg.At(0)
	assert.Equal(t, uint16(30010), got.Port)
}

func TestAppend_concurrent(t *testing.T) {
	t.Parallel()

	const workers = 50

	reg := registry.New(1, workers-10)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs int
	)

	for i := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := reg.Append(rec(1, i, uint16(i))); err != nil { //nolint:gosec // small test values
				mu.Lock()
				errs++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, workers-10, reg.Len())
	assert.Equal(t, 10, errs)
}

func TestSnapshot_round_trip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "servers.json")

	parent := registry.New(100, 0)
	require.NoError(t, parent.Append(rec(100, 10, 30010)))
	require.NoError(t, parent.Append(rec(100, 11, 30011)))
	require.NoError(t, parent.Save(path))

	assert.FileExists(t, path+".digest")

	child := registry.New(200, 0)
	require.NoError(t, child.Load(path))

	assert.Equal(t, parent.Records(), child.Records())
	assert.Equal(t, 200, child.Owner())
	assert.Empty(t, child.Owned(200))
	assert.Len(t, child.Owned(100), 2)
}

func TestLoad_digest_mismatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "servers.json")

	reg := registry.New(1, 0)
	require.NoError(t, reg.Append(rec(1, 10, 30010)))
	require.NoError(t, reg.Save(path))

	require.NoError(t, os.WriteFile(
		path, []byte(`{"version":1,"servers":[]}`), 0o600,
	))

	err := registry.New(2, 0).Load(path)

	require.ErrorIs(t, err, registry.ErrBadSnapshot)
}

func TestLoad_missing_file(t *testing.T) {
	t.Parallel()

	err := registry.New(2, 0).Load(
		filepath.Join(t.TempDir(), "absent.json"),
	)

	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_capacity(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "servers.json")

	reg := registry.New(1, 0)
	require.NoError(t, reg.Append(rec(1, 10, 30010)))
	require.NoError(t, reg.Append(rec(1, 11, 30011)))
	require.NoError(t, reg.Save(path))

	small := registry.New(2, 1)
	err := small.Load(path)

	require.ErrorIs(t, err, registry.ErrCapacity)
	assert.Zero(t, small.Len())
}
