package logdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Buffer_NewCopy_Is_Independent_Of_Source(t *testing.T) {
	t.Parallel()

	src := []byte("hello")
	b := NewCopy(src)
	src[0] = 'H'

	assert.Equal(t, "hello", string(b.Data()))
	b.Free()
}

func Test_Buffer_NewDirect_Calls_Disposer_Once_All_References_Freed(t *testing.T) {
	t.Parallel()

	disposed := 0
	b := NewDirect([]byte("data"), func() { disposed++ })

	b.Retain()
	assert.Equal(t, 0, disposed)

	b.Free()
	assert.Equal(t, 0, disposed, "one reference still outstanding")

	b.Free()
	assert.Equal(t, 1, disposed)
}

func Test_Append_Concatenates_Without_Mutating_Inputs(t *testing.T) {
	t.Parallel()

	a := NewCopy([]byte("foo"))
	b := NewCopy([]byte("bar"))

	c := Append(a, b)
	require.Equal(t, "foobar", string(c.Data()))

	// Both original buffers remain independently valid and unchanged.
	assert.Equal(t, "foo", string(a.Data()))
	assert.Equal(t, "bar", string(b.Data()))

	a.Free()
	b.Free()
	c.Free()
}

func Test_Append_Nil_Inputs(t *testing.T) {
	t.Parallel()

	b := NewCopy([]byte("x"))

	assert.Equal(t, "x", string(Append(nil, b).Data()))
	assert.Equal(t, "x", string(Append(b, nil).Data()))
	assert.Nil(t, Append(nil, nil))

	b.Free()
}

func Test_Buffer_Length_Of_Nil_Is_Zero(t *testing.T) {
	t.Parallel()

	var b *Buffer
	assert.Equal(t, 0, b.Length())
	assert.Nil(t, b.Data())
}

func Test_Buffer_WriteTo_Visits_Every_Segment(t *testing.T) {
	t.Parallel()

	a := NewCopy([]byte("ab"))
	b := NewCopy([]byte("cd"))
	composed := Append(a, b)

	var got []byte

	err := composed.writeTo(func(p []byte) error {
		got = append(got, p...)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(got))

	a.Free()
	b.Free()
	composed.Free()
}
