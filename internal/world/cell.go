package world

import "github.com/udisondev/realmsync/internal/model"

// Cell holds the rows whose position falls inside one grid square.
// Not safe for concurrent use; the owning Index is guarded by its caller.
type Cell struct {
	coord CellCoord
	rows  map[model.RowKey]model.Vec2

	// version is incremented on every add/remove/move inside the cell.
	version uint64
}

func newCell(c CellCoord) *Cell {
	return &Cell{coord: c, rows: make(map[model.RowKey]model.Vec2, 8)}
}

// Coord returns the cell coordinate.
func (c *Cell) Coord() CellCoord {
	return c.coord
}

// Version returns the cell modification counter.
func (c *Cell) Version() uint64 {
	return c.version
}

// Len returns number of rows in the cell.
func (c *Cell) Len() int {
	return len(c.rows)
}

func (c *Cell) put(key model.RowKey, pos model.Vec2) {
	c.rows[key] = pos
	c.version++
}

func (c *Cell) remove(key model.RowKey) {
	if _, ok := c.rows[key]; !ok {
		return
	}
	delete(c.rows, key)
	c.version++
}
