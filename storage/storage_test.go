package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itiky/collaborate-doc/model"
)

const BenchDocSize = 10000

func newOp(t *testing.T, author string, p model.Patch) PatchOperation {
	op, err := NewPatchOperation(author, p, time.Now())
	require.NoError(t, err)

	return op
}

// Test applies patches and checks the document and metadata state.
func Test_Storage_Apply(t *testing.T) {
	storage, err := NewStorage(model.Document{"hello": 0.0})
	require.NoError(t, err)

	out, err := storage.ApplyOperations(
		newOp(t, "a", model.Patch{{Op: model.ReplaceOperationType, Path: "/hello", Value: 1.0}}),
		newOp(t, "b", model.Patch{
			{Op: model.AddOperationType, Path: "/list", Value: []interface{}{"x"}},
			{Op: model.AddOperationType, Path: "/list/-", Value: "y"},
		}),
	)
	require.NoError(t, err)
	require.Len(t, out, 3)
	t.Logf("Storage:\n%s", storage)

	doc, err := storage.Export()
	require.NoError(t, err)
	require.Equal(t, model.Document{"hello": 1.0, "list": []interface{}{"x", "y"}}, doc)

	item, found := storage.Item("list")
	require.True(t, found)
	require.Equal(t, "b", item.UpdatedBy)
	require.False(t, item.IsDeleted)

	// soft delete
	_, err = storage.ApplyOperations(newOp(t, "c", model.Patch{{Op: model.RemoveOperationType, Path: "/list"}}))
	require.NoError(t, err)
	item, found = storage.Item("list")
	require.True(t, found)
	require.True(t, item.IsDeleted)
	require.Equal(t, "c", item.UpdatedBy)

	// failing patch leaves the state untouched
	_, err = storage.ApplyOperations(newOp(t, "d", model.Patch{{Op: model.ReplaceOperationType, Path: "/missing", Value: 1.0}}))
	require.Error(t, err)
	doc, err = storage.Export()
	require.NoError(t, err)
	require.Equal(t, model.Document{"hello": 1.0}, doc)

	// export is a copy
	doc["hello"] = 2.0
	doc, err = storage.Export()
	require.NoError(t, err)
	require.Equal(t, 1.0, doc["hello"])
}

func Test_NewPatchOperation(t *testing.T) {
	now := time.Now()

	_, err := NewPatchOperation("a", nil, now)
	require.Error(t, err)

	_, err = NewPatchOperation("a", model.Patch{{Op: model.AddOperationType, Path: "/a", Value: 1}}, time.Time{})
	require.Error(t, err)

	_, err = NewPatchOperation("a", model.Patch{{Op: model.AddOperationType, Path: "", Value: 1}}, now)
	require.Error(t, err)

	_, err = NewPatchOperation("a", model.Patch{{Op: model.AddOperationType, Path: "/a", Value: float64(model.MaxSafeInteger + 1)}}, now)
	var rangeErr *model.RangeError
	require.ErrorAs(t, err, &rangeErr)
	require.Equal(t, "/a", rangeErr.Path)
}

func Test_topLevelKey(t *testing.T) {
	require.Equal(t, "a", topLevelKey("/a/b/0"))
	require.Equal(t, "a/b", topLevelKey("/a~1b"))
	require.Equal(t, "a~b", topLevelKey("/a~0b/c"))
	require.Equal(t, "", topLevelKey(""))
}

// Test checks the version diff / snapshot / rebuild consistency.
func Test_DocumentHistory(t *testing.T) {
	history, err := NewDocumentHistory(model.Document{"counter": 0.0})
	require.NoError(t, err)
	require.Equal(t, 0, history.LatestVersion())

	v, err := history.AddVersion(newOp(t, "a", model.Patch{{Op: model.ReplaceOperationType, Path: "/counter", Value: 1.0}}))
	require.NoError(t, err)
	require.Equal(t, 1, v)

	v, err = history.AddVersion(newOp(t, "b", model.Patch{{Op: model.AddOperationType, Path: "/b", Value: true}}))
	require.NoError(t, err)
	require.Equal(t, 2, v)

	_, err = history.AddVersion(newOp(t, "c", model.Patch{{Op: model.RemoveOperationType, Path: "/missing"}}))
	require.Error(t, err)
	require.Equal(t, 2, history.LatestVersion())

	v, err = history.AddVersion(newOp(t, "a", model.Patch{{Op: model.ReplaceOperationType, Path: "/counter", Value: 2.0}}))
	require.NoError(t, err)
	require.Equal(t, 3, v)

	// diffs
	latest, diff := history.GetOutputDiffWithLatest(0, "")
	require.Equal(t, 3, latest)
	require.Len(t, diff, 3)

	_, diff = history.GetOutputDiffWithLatest(0, "a")
	require.Equal(t, model.Patch{{Op: model.AddOperationType, Path: "/b", Value: true}}, diff)

	_, diff = history.GetOutputDiffWithLatest(2, "b")
	require.Equal(t, model.Patch{{Op: model.ReplaceOperationType, Path: "/counter", Value: 2.0}}, diff)

	_, diff = history.GetOutputDiffWithLatest(3, "")
	require.NotNil(t, diff)
	require.Empty(t, diff)

	// snapshot
	version, doc, err := history.GetOutputSnapshot()
	require.NoError(t, err)
	require.Equal(t, 3, version)
	require.Equal(t, model.Document{"counter": 2.0, "b": true}, doc)

	// rebuild
	for version, expected := range []model.Document{
		{"counter": 0.0},
		{"counter": 1.0},
		{"counter": 1.0, "b": true},
		{"counter": 2.0, "b": true},
	} {
		storage, err := history.BuildStorage(version)
		require.NoError(t, err, "version %d", version)
		doc, err := storage.Export()
		require.NoError(t, err)
		require.Equal(t, expected, doc, "version %d", version)
	}

	_, err = history.BuildStorage(4)
	require.Error(t, err)
	require.False(t, history.IsVersionValid(-1))
}

func Test_DocHistoryFromFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, GenAndSaveInitialDocument(filePath, 10))
	require.Error(t, GenAndSaveInitialDocument(filePath, 0))

	history, err := NewDocHistoryFromFile(filePath)
	require.NoError(t, err)

	_, doc, err := history.GetOutputSnapshot()
	require.NoError(t, err)
	require.Len(t, doc, 10)

	_, err = NewDocHistoryFromFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func Test_Store(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "doc.db"))
	require.NoError(t, err)
	defer store.Close()

	_, _, err = store.Load()
	require.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, store.Save(1, model.Document{"a": 1.0}))
	require.NoError(t, store.Save(7, model.Document{"a": 2.0, "list": []interface{}{"x"}}))

	version, doc, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 7, version)
	require.Equal(t, model.Document{"a": 2.0, "list": []interface{}{"x"}}, doc)
}

func Benchmark_DocumentHistory_AddVersion(b *testing.B) {
	history, err := NewDocumentHistory(newMockDocument(BenchDocSize))
	require.NoError(b, err)
	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		op, err := NewPatchOperation("bench", model.Patch{
			{Op: model.AddOperationType, Path: fmt.Sprintf("/key%d", n%100), Value: float64(n)},
		}, time.Now())
		require.NoError(b, err)

		_, err = history.AddVersion(op)
		require.NoError(b, err)
	}
}
