package encoding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripScalars(t *testing.T) {
	w := NewWriter(0)
	w.PutUint8(0xAB)
	w.PutUint32(123456789)
	w.PutUint64(0x0102030405060708)
	w.PutBool(true)
	w.PutBool(false)
	w.PutBytes([]byte("hello"))
	w.PutString("aeternus")

	r := NewReader(w.Bytes())

	u8, err := r.GetUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), u8)

	u32, err := r.GetUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(123456789), u32)

	u64, err := r.GetUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), u64)

	b1, err := r.GetBool()
	require.NoError(t, err)
	require.True(t, b1)

	b2, err := r.GetBool()
	require.NoError(t, err)
	require.False(t, b2)

	blob, err := r.GetBytes()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), blob)

	s, err := r.GetString()
	require.NoError(t, err)
	require.Equal(t, "aeternus", s)

	require.Zero(t, r.Remaining())
}

func TestOptionalBytes(t *testing.T) {
	w := NewWriter(0)
	w.PutOptionalBytes(nil, false)
	w.PutOptionalBytes([]byte("present"), true)

	r := NewReader(w.Bytes())

	v, present, err := r.GetOptionalBytes()
	require.NoError(t, err)
	require.False(t, present)
	require.Nil(t, v)

	v, present, err = r.GetOptionalBytes()
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, []byte("present"), v)
}

func TestVector(t *testing.T) {
	w := NewWriter(0)
	w.PutVectorHeader(3)
	for i := uint32(0); i < 3; i++ {
		w.PutUint32(i)
	}

	r := NewReader(w.Bytes())
	n, err := r.GetVectorHeader()
	require.NoError(t, err)
	require.Equal(t, 3, n)
	for i := 0; i < n; i++ {
		v, err := r.GetUint32()
		require.NoError(t, err)
		require.Equal(t, uint32(i), v)
	}
}

func TestShortBuffer(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02})
	_, err := r.GetUint32()
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestInvalidBool(t *testing.T) {
	r := NewReader([]byte{0x02})
	_, err := r.GetBool()
	require.ErrorIs(t, err, ErrInvalidBool)
}

func TestLengthOverflowNeverAllocates(t *testing.T) {
	w := NewWriter(0)
	w.PutUint32(MaxBlobLen + 1)
	r := NewReader(w.Bytes())
	_, err := r.GetBytes()
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestVectorCountOverflow(t *testing.T) {
	w := NewWriter(0)
	w.PutUint32(MaxVectorLen + 1)
	r := NewReader(w.Bytes())
	_, err := r.GetVectorHeader()
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestInvalidUTF8(t *testing.T) {
	w := NewWriter(0)
	w.PutBytes([]byte{0xFF, 0xFE})
	r := NewReader(w.Bytes())
	_, err := r.GetString()
	require.ErrorIs(t, err, ErrInvalidUTF8)
}
