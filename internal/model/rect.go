package model

import (
	"math"
	"math/rand/v2"
)

// Rect is an axis-aligned rectangle. Bounds are inclusive.
type Rect struct {
	MinX float64 `json:"min_x" yaml:"min_x"`
	MinY float64 `json:"min_y" yaml:"min_y"`
	MaxX float64 `json:"max_x" yaml:"max_x"`
	MaxY float64 `json:"max_y" yaml:"max_y"`
}

// Around returns the square of half-size radius centered on c.
func Around(c Vec2, radius float64) Rect {
	return Rect{MinX: c.X - radius, MinY: c.Y - radius, MaxX: c.X + radius, MaxY: c.Y + radius}
}

// Valid reports whether the rect has finite, ordered bounds.
func (r Rect) Valid() bool {
	for _, f := range [...]float64{r.MinX, r.MinY, r.MaxX, r.MaxY} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return r.MinX <= r.MaxX && r.MinY <= r.MaxY
}

// Contains reports whether p lies inside r (bounds inclusive).
func (r Rect) Contains(p Vec2) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

// Clamp returns the point of r closest to p.
func (r Rect) Clamp(p Vec2) Vec2 {
	return Vec2{
		X: min(max(p.X, r.MinX), r.MaxX),
		Y: min(max(p.Y, r.MinY), r.MaxY),
	}
}

// Center returns the midpoint of r.
func (r Rect) Center() Vec2 {
	return Vec2{X: (r.MinX + r.MaxX) / 2, Y: (r.MinY + r.MaxY) / 2}
}

// RandomPoint returns a uniformly distributed point inside r.
func (r Rect) RandomPoint(rng *rand.Rand) Vec2 {
	return Vec2{
		X: r.MinX + rng.Float64()*(r.MaxX-r.MinX),
		Y: r.MinY + rng.Float64()*(r.MaxY-r.MinY),
	}
}
