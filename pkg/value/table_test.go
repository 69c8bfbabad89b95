package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableSetGetDelete(t *testing.T) {
	var table Table
	key := &String{Header: newHeader(ObjTypeString), Chars: "x", Hash: fnv1a("x")}

	_, ok := table.Get(key)
	assert.False(t, ok, "lookup on an empty table must miss")

	isNew := table.Set(key, Number(42))
	assert.True(t, isNew)

	val, ok := table.Get(key)
	require.True(t, ok)
	assert.Equal(t, 42.0, val.AsNumber())

	isNew = table.Set(key, Number(43))
	assert.False(t, isNew, "re-setting an existing key is not a new entry")

	assert.True(t, table.Delete(key))
	_, ok = table.Get(key)
	assert.False(t, ok, "deleted key must not be found")
}

// TestTableTombstoneProbing checks that deleting one key doesn't break
// lookup of a different key that was displaced into the same probe
// chain — the entire reason deletions leave tombstones instead of
// nulling the slot outright.
func TestTableTombstoneProbing(t *testing.T) {
	var table Table
	var keys []*String
	for i := 0; i < 20; i++ {
		s := &String{Header: newHeader(ObjTypeString), Chars: string(rune('a' + i))}
		s.Hash = fnv1a(s.Chars)
		keys = append(keys, s)
		table.Set(s, Number(float64(i)))
	}

	table.Delete(keys[0])
	table.Delete(keys[5])

	for i, k := range keys {
		if i == 0 || i == 5 {
			continue
		}
		val, ok := table.Get(k)
		require.True(t, ok, "key %d should survive unrelated deletions", i)
		assert.Equal(t, float64(i), val.AsNumber())
	}
}

func TestTableAddAll(t *testing.T) {
	var from, to Table
	a := &String{Header: newHeader(ObjTypeString), Chars: "a"}
	a.Hash = fnv1a("a")
	from.Set(a, Bool(true))

	to.AddAll(&from)
	val, ok := to.Get(a)
	require.True(t, ok)
	assert.True(t, val.AsBool())
}

func TestTableGrowPreservesEntries(t *testing.T) {
	var table Table
	var keys []*String
	for i := 0; i < 100; i++ {
		s := &String{Header: newHeader(ObjTypeString), Chars: string(rune(i)) + "k"}
		s.Hash = fnv1a(s.Chars)
		keys = append(keys, s)
		table.Set(s, Number(float64(i)))
	}
	for i, k := range keys {
		val, ok := table.Get(k)
		require.True(t, ok)
		assert.Equal(t, float64(i), val.AsNumber())
	}
}
