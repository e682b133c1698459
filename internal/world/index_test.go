package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/realmsync/internal/model"
)

func entityKey(id uint64) model.RowKey {
	return model.RowKey{Table: model.TableEntity, ID: id}
}

func TestCoordToCell(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		x, y float64
		want CellCoord
	}{
		{"origin", 0, 0, CellCoord{0, 0}},
		{"inside first cell", 255.9, 10, CellCoord{0, 0}},
		{"next cell", 256, 256, CellCoord{1, 1}},
		{"negative", -1, -256, CellCoord{-1, -1}},
		{"negative far", -257, 0, CellCoord{-2, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoordToCell(tt.x, tt.y, DefaultCellSize))
		})
	}
}

func TestIndex_PutMoveRemove(t *testing.T) {
	t.Parallel()

	ix := NewIndex(100)

	ix.Put(entityKey(1), model.V(10, 10))
	ix.Put(entityKey(2), model.V(150, 10))
	require.Equal(t, 2, ix.Len())
	assert.Equal(t, 2, ix.CellCount())

	// Moving into the other cell releases the first one.
	ix.Put(entityKey(1), model.V(120, 20))
	assert.Equal(t, 1, ix.CellCount())
	assert.Equal(t, 2, ix.Cell(model.V(101, 1)).Len())

	ix.Remove(entityKey(2))
	ix.Remove(entityKey(99)) // unknown key is ignored
	assert.Equal(t, 1, ix.Len())

	ix.Remove(entityKey(1))
	assert.Equal(t, 0, ix.CellCount())
}

func TestIndex_Query(t *testing.T) {
	t.Parallel()

	ix := NewIndex(100)
	ix.Put(entityKey(1), model.V(0, 0))
	ix.Put(entityKey(2), model.V(250, 250))
	ix.Put(entityKey(3), model.V(-50, 90))
	ix.Put(model.RowKey{Table: model.TablePlayer, Identity: "aa"}, model.V(10, 10))

	got := ix.Keys(model.Rect{MinX: -60, MinY: -10, MaxX: 100, MaxY: 100})
	assert.Equal(t, []model.RowKey{
		entityKey(1),
		entityKey(3),
		{Table: model.TablePlayer, Identity: "aa"},
	}, got)

	// Bounds are inclusive.
	got = ix.Keys(model.Rect{MinX: 250, MinY: 250, MaxX: 250, MaxY: 250})
	assert.Equal(t, []model.RowKey{entityKey(2)}, got)
}

func TestIndex_QueryHugeRect(t *testing.T) {
	t.Parallel()

	ix := NewIndex(10)
	for i := range 20 {
		ix.Put(entityKey(uint64(i+1)), model.V(float64(i)*1000, 0))
	}

	got := ix.Keys(model.Rect{MinX: -1e9, MinY: -1e9, MaxX: 1e9, MaxY: 1e9})
	assert.Len(t, got, 20)
}

func TestIndex_QueryStops(t *testing.T) {
	t.Parallel()

	ix := NewIndex(100)
	for i := range 10 {
		ix.Put(entityKey(uint64(i+1)), model.V(float64(i), 0))
	}

	visited := 0
	ix.Query(model.Rect{MinX: 0, MinY: 0, MaxX: 50, MaxY: 50}, func(model.RowKey, model.Vec2) bool {
		visited++
		return visited < 3
	})
	assert.Equal(t, 3, visited)
}

func TestCell_VersionBumps(t *testing.T) {
	t.Parallel()

	ix := NewIndex(100)
	ix.Put(entityKey(1), model.V(1, 1))
	cell := ix.Cell(model.V(1, 1))
	v := cell.Version()

	ix.Put(entityKey(1), model.V(2, 2))
	assert.Greater(t, cell.Version(), v)
}
