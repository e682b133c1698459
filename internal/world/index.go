package world

import (
	"slices"

	"github.com/udisondev/realmsync/internal/model"
)

// Index is a uniform grid over the world plane used to answer
// "which rows lie inside this rectangle" without scanning every row.
// Cells are allocated lazily and released when they become empty.
//
// Index is not safe for concurrent use; the store calls it under its
// write lock.
type Index struct {
	cellSize float64
	cells    map[CellCoord]*Cell
	where    map[model.RowKey]CellCoord
}

// NewIndex creates an empty index. cellSize <= 0 selects DefaultCellSize.
func NewIndex(cellSize float64) *Index {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &Index{
		cellSize: cellSize,
		cells:    make(map[CellCoord]*Cell, 256),
		where:    make(map[model.RowKey]CellCoord, 1024),
	}
}

// CellSize returns the configured cell edge length.
func (ix *Index) CellSize() float64 {
	return ix.cellSize
}

// Len returns the number of indexed rows.
func (ix *Index) Len() int {
	return len(ix.where)
}

// CellCount returns the number of allocated cells.
func (ix *Index) CellCount() int {
	return len(ix.cells)
}

// Put inserts or moves key to pos.
func (ix *Index) Put(key model.RowKey, pos model.Vec2) {
	next := CoordToCell(pos.X, pos.Y, ix.cellSize)
	if prev, ok := ix.where[key]; ok && prev != next {
		ix.removeFrom(prev, key)
	}

	cell := ix.cells[next]
	if cell == nil {
		cell = newCell(next)
		ix.cells[next] = cell
	}
	cell.put(key, pos)
	ix.where[key] = next
}

// Remove drops key from the index. Unknown keys are ignored.
func (ix *Index) Remove(key model.RowKey) {
	coord, ok := ix.where[key]
	if !ok {
		return
	}
	delete(ix.where, key)
	ix.removeFrom(coord, key)
}

// Cell returns the cell containing pos, or nil if it holds nothing.
func (ix *Index) Cell(pos model.Vec2) *Cell {
	return ix.cells[CoordToCell(pos.X, pos.Y, ix.cellSize)]
}

// Query calls fn for every key whose position lies inside r.
// Iteration stops when fn returns false.
func (ix *Index) Query(r model.Rect, fn func(model.RowKey, model.Vec2) bool) {
	lo := CoordToCell(r.MinX, r.MinY, ix.cellSize)
	hi := CoordToCell(r.MaxX, r.MaxY, ix.cellSize)

	// A huge rect covers more cells than exist; walk the allocated ones instead.
	span := (int64(hi.X) - int64(lo.X) + 1) * (int64(hi.Y) - int64(lo.Y) + 1)
	if span > int64(len(ix.cells)) {
		for _, cell := range ix.cells {
			if !visit(cell, r, fn) {
				return
			}
		}
		return
	}

	for cx := lo.X; cx <= hi.X; cx++ {
		for cy := lo.Y; cy <= hi.Y; cy++ {
			cell := ix.cells[CellCoord{X: cx, Y: cy}]
			if cell == nil {
				continue
			}
			if !visit(cell, r, fn) {
				return
			}
		}
	}
}

// Keys returns the keys inside r sorted by table then id/identity.
func (ix *Index) Keys(r model.Rect) []model.RowKey {
	keys := make([]model.RowKey, 0, 64)
	ix.Query(r, func(k model.RowKey, _ model.Vec2) bool {
		keys = append(keys, k)
		return true
	})
	slices.SortFunc(keys, CompareKeys)
	return keys
}

// CompareKeys orders row keys by table, then ID, then identity.
func CompareKeys(a, b model.RowKey) int {
	switch {
	case a.Table != b.Table:
		return int(a.Table) - int(b.Table)
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	case a.Identity < b.Identity:
		return -1
	case a.Identity > b.Identity:
		return 1
	}
	return 0
}

func (ix *Index) removeFrom(coord CellCoord, key model.RowKey) {
	cell := ix.cells[coord]
	if cell == nil {
		return
	}
	cell.remove(key)
	if cell.Len() == 0 {
		delete(ix.cells, coord)
	}
}

func visit(cell *Cell, r model.Rect, fn func(model.RowKey, model.Vec2) bool) bool {
	for k, pos := range cell.rows {
		if !r.Contains(pos) {
			continue
		}
		if !fn(k, pos) {
			return false
		}
	}
	return true
}
