package managed

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/syncpool/pkg/errors"
)

type buffer struct {
	data []byte
}

func (b *buffer) Clone() *buffer {
	return &buffer{data: append([]byte(nil), b.data...)}
}

func TestOwnedReleasesOnce(t *testing.T) {
	var released int
	r := Own(&buffer{data: []byte("x")}, func(*buffer) { released++ })

	assert.Equal(t, Owned, r.Kind())
	assert.Equal(t, int64(1), r.RefCount())
	r.Release()
	r.Release()
	assert.Equal(t, 1, released)
	assert.True(t, r.Released())

	_, err := r.Dup()
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))
}

func TestOwnedDupClones(t *testing.T) {
	var released []*buffer
	orig := &buffer{data: []byte("abc")}
	r := Own(orig, func(b *buffer) { released = append(released, b) })

	c, err := r.Dup()
	require.NoError(t, err)
	assert.Equal(t, Owned, c.Kind())
	assert.NotSame(t, orig, c.Get())
	assert.Equal(t, orig.data, c.Get().data)

	r.Release()
	c.Release()
	require.Len(t, released, 2)
	assert.Same(t, orig, released[0])
}

func TestOwnedDupWithoutCloner(t *testing.T) {
	r := Own(42, nil)
	_, err := r.Dup()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))
}

func TestSharedReleasesWithLastReference(t *testing.T) {
	var released int
	r := Share("conn", func(string) { released++ })

	var refs []*Ref[string]
	for i := 0; i < 9; i++ {
		d, err := r.Dup()
		require.NoError(t, err)
		refs = append(refs, d)
	}
	assert.Equal(t, int64(10), r.RefCount())

	var wg sync.WaitGroup
	for _, d := range refs {
		wg.Add(1)
		go func(d *Ref[string]) {
			defer wg.Done()
			d.Release()
			d.Release()
		}(d)
	}
	wg.Wait()
	assert.Equal(t, 0, released)
	assert.Equal(t, int64(1), r.RefCount())

	r.Release()
	assert.Equal(t, 1, released)
}

func TestBorrowedNeverReleases(t *testing.T) {
	r := Borrow(7)
	d, err := r.Dup()
	require.NoError(t, err)
	assert.Equal(t, Borrowed, d.Kind())
	assert.Equal(t, 7, d.Get())
	assert.Equal(t, int64(0), r.RefCount())
	r.Release()
	assert.False(t, r.Released())
	assert.Equal(t, "borrowed", Borrowed.String())
	assert.Equal(t, "shared", Shared.String())
	assert.Equal(t, "owned", Owned.String())
}
