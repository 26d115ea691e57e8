package target

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsweep/netsweep/internal/errors"
)

func collect(t *testing.T, spec string) ([]Candidate, error) {
	t.Helper()
	var out []Candidate
	err := NewEnumerator(nil).Enumerate(context.Background(), spec, func(c Candidate) bool {
		out = append(out, c)
		return true
	})
	return out, err
}

func addresses(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Address
	}
	return out
}

func TestEnumerateSingleAddress(t *testing.T) {
	candidates, err := collect(t, "192.0.2.10")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "192.0.2.10", candidates[0].Address)
	assert.Equal(t, "192.0.2.10", candidates[0].Spec)
}

func TestEnumerateCIDR(t *testing.T) {
	t.Run("skips network and broadcast", func(t *testing.T) {
		candidates, err := collect(t, "192.0.2.0/29")
		require.NoError(t, err)
		assert.Equal(t, []string{
			"192.0.2.1", "192.0.2.2", "192.0.2.3",
			"192.0.2.4", "192.0.2.5", "192.0.2.6",
		}, addresses(candidates))
	})

	t.Run("slash31 keeps both addresses", func(t *testing.T) {
		candidates, err := collect(t, "10.0.0.0/31")
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.0", "10.0.0.1"}, addresses(candidates))
	})

	t.Run("slash32 yields one address", func(t *testing.T) {
		candidates, err := collect(t, "10.1.2.3/32")
		require.NoError(t, err)
		assert.Equal(t, []string{"10.1.2.3"}, addresses(candidates))
	})

	t.Run("ascending order", func(t *testing.T) {
		candidates, err := collect(t, "172.16.0.0/28")
		require.NoError(t, err)
		require.Len(t, candidates, 14)
		assert.Equal(t, "172.16.0.1", candidates[0].Address)
		assert.Equal(t, "172.16.0.14", candidates[13].Address)
	})
}

func TestEnumerateIsLazy(t *testing.T) {
	// Stop after three candidates from a block that would expand to 65534.
	var seen int
	err := NewEnumerator(nil).Enumerate(context.Background(), "10.0.0.0/16", func(Candidate) bool {
		seen++
		return seen < 3
	})
	require.NoError(t, err)
	assert.Equal(t, 3, seen)
}

func TestEnumerateIsRestartable(t *testing.T) {
	first, err := collect(t, "192.0.2.0/29")
	require.NoError(t, err)
	second, err := collect(t, "192.0.2.0/29")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEnumerateInvalidSpecs(t *testing.T) {
	for _, spec := range []string{"", "192.0.2.0/33", "10.0.0.0/abc", "300.300.300.300", ".."} {
		t.Run(spec, func(t *testing.T) {
			_, err := collect(t, spec)
			require.Error(t, err)
			assert.Equal(t, errors.CodeTargetInvalid, errors.GetCode(err))
		})
	}
}

func TestEnumerateUnresolvableHostname(t *testing.T) {
	_, err := collect(t, "host.invalid")
	require.Error(t, err)
	assert.Equal(t, errors.CodeResolution, errors.GetCode(err))
}

func TestEnumerateLocalhost(t *testing.T) {
	candidates, err := collect(t, "localhost")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "localhost", candidates[0].Spec)
}

func TestEnumerateHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var seen int
	err := NewEnumerator(nil).Enumerate(ctx, "10.0.0.0/8", func(Candidate) bool {
		seen++
		if seen == 5 {
			cancel()
		}
		return true
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, seen, 6)
}
