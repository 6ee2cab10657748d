package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderRoundTrip(t *testing.T) {
	b := NewBuilder(100)
	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for _, k := range keys {
		b.AddKey(k)
	}
	require.Equal(t, 3, b.NumKeys())

	data, err := b.Finish()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := Load(data)
	require.NoError(t, err)
	for _, k := range keys {
		require.True(t, f.MayContain(k))
	}
	require.Positive(t, f.NumBits())
	require.Positive(t, f.NumHashes())
}

func TestAbsentKeyUsuallyRejected(t *testing.T) {
	b := NewBuilder(1000)
	for i := 0; i < 1000; i++ {
		b.AddKey([]byte{byte(i), byte(i >> 8)})
	}
	data, err := b.Finish()
	require.NoError(t, err)

	f, err := Load(data)
	require.NoError(t, err)

	falsePositives := 0
	for i := 1000; i < 2000; i++ {
		if f.MayContain([]byte{byte(i), byte(i >> 8), 0xFF}) {
			falsePositives++
		}
	}
	require.Less(t, falsePositives, 100)
}

func TestResetReusesBuilder(t *testing.T) {
	b := NewBuilder(10)
	b.AddKey([]byte("x"))
	b.Reset()
	require.Equal(t, 0, b.NumKeys())
}
