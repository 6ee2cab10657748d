package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueDeterministic(t *testing.T) {
	data := []byte("aeternusdb")
	require.Equal(t, Value(data), Value(data))
	require.NotEqual(t, Value(data), Value([]byte("aeternusdc")))
}

func TestExtendMatchesWholeValue(t *testing.T) {
	a := []byte("hello, ")
	b := []byte("world")
	whole := Value(append(append([]byte(nil), a...), b...))
	extended := Extend(Value(a), b)
	require.Equal(t, whole, extended)
}
