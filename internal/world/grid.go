package world

import "math"

// DefaultCellSize is the edge length of one grid cell in world units.
const DefaultCellSize = 256.0

// CellCoord addresses a cell of the grid. Cells are unbounded in both
// directions, so negative coordinates are valid.
type CellCoord struct {
	X, Y int32
}

// CoordToCell converts a world coordinate to the cell containing it.
// Formula: floor(coord / cellSize)
func CoordToCell(x, y, cellSize float64) CellCoord {
	return CellCoord{
		X: int32(math.Floor(x / cellSize)),
		Y: int32(math.Floor(y / cellSize)),
	}
}

// CellOrigin returns the world coordinate of the cell's lower corner.
func CellOrigin(c CellCoord, cellSize float64) (x, y float64) {
	return float64(c.X) * cellSize, float64(c.Y) * cellSize
}
