package model

import "time"

// Route is a configured spawn area governing periodic entity creation.
type Route struct {
	ID            uint64        `json:"id" yaml:"id"`
	SpawnArea     Rect          `json:"spawn_area" yaml:"spawn_area"`
	Kind          string        `json:"kind" yaml:"kind"`
	MaxCount      int           `json:"max_count" yaml:"max_count"`
	SpawnInterval time.Duration `json:"spawn_interval" yaml:"spawn_interval"`
	LastSpawnTime time.Time     `json:"last_spawn_time" yaml:"-"`
	Version       uint64        `json:"version" yaml:"-"`
}

// Table implements Row.
func (r *Route) Table() Table { return TableRoute }

// Key implements Row.
func (r *Route) Key() RowKey { return RowKey{Table: TableRoute, ID: r.ID} }

// RowVersion implements Row.
func (r *Route) RowVersion() uint64 { return r.Version }

// SetRowVersion implements Versioned.
func (r *Route) SetRowVersion(v uint64) { r.Version = v }

// CloneRow implements Row.
func (r *Route) CloneRow() Row {
	c := *r
	return &c
}

// PatrolBounds returns the left and right X bounds of the patrol lane.
func (r *Route) PatrolBounds() (left, right float64) {
	return r.SpawnArea.MinX, r.SpawnArea.MaxX
}

// Due reports whether the spawn interval has elapsed since the last spawn.
func (r *Route) Due(now time.Time) bool {
	return !now.Before(r.LastSpawnTime.Add(r.SpawnInterval))
}
