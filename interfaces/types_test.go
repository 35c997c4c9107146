package interfaces

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord(t *testing.T, material []byte) *KeyRecord {
	t.Helper()

	id, err := ParseKeyID("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return &KeyRecord{
		KeyID:          id,
		Material:       append([]byte(nil), material...),
		RemoteSystemID: "KP_Remote_Test",
		SizeBits:       len(material) * 8,
	}
}

func TestKeyRecord_ConsumeMaterialWipesStore(t *testing.T) {
	material := bytes.Repeat([]byte{0xAB}, 32)
	record := newTestRecord(t, material)

	got, ok := record.ConsumeMaterial()
	require.True(t, ok)
	assert.Equal(t, material, got)

	// The record keeps nothing back after the handout.
	assert.True(t, record.IsConsumed())
	assert.Nil(t, record.Material)
	assert.Nil(t, record.MaterialCopy())

	_, ok = record.ConsumeMaterial()
	assert.False(t, ok)
}

func TestKeyRecord_MaterialCopyNeverTorn(t *testing.T) {
	material := bytes.Repeat([]byte{0xCD}, 32)
	record := newTestRecord(t, material)

	// Readers race a concurrent consume. Every copy a reader obtains must be
	// either the complete material or nothing: a partially wiped buffer means
	// the copy and the wipe interleaved.
	start := make(chan struct{})
	var wg sync.WaitGroup
	copies := make([][]byte, 16)
	for i := range copies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			copies[i] = record.MaterialCopy()
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		_, ok := record.ConsumeMaterial()
		assert.True(t, ok)
	}()

	close(start)
	wg.Wait()

	for _, got := range copies {
		if got != nil {
			assert.Equal(t, material, got)
		}
	}
}

func TestKeyRecord_MaterialSnapshotPairsMaterialWithState(t *testing.T) {
	material := bytes.Repeat([]byte{0xEF}, 32)
	record := newTestRecord(t, material)

	got, consumed := record.MaterialSnapshot()
	assert.False(t, consumed)
	assert.Equal(t, material, got)

	_, ok := record.ConsumeMaterial()
	require.True(t, ok)

	got, consumed = record.MaterialSnapshot()
	assert.True(t, consumed)
	assert.Nil(t, got)
}
