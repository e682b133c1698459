package model

import "fmt"

// Table identifies one of the authoritative tables.
type Table uint8

const (
	TableEntity Table = iota + 1
	TablePlayer
	TableRoute
	TableDamage
)

var tableNames = map[Table]string{
	TableEntity: "enemy",
	TablePlayer: "player",
	TableRoute:  "route",
	TableDamage: "damage",
}

// String returns the wire name used in queries.
func (t Table) String() string {
	if name, ok := tableNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Table(%d)", t)
}

// Valid reports whether t is a known table.
func (t Table) Valid() bool {
	_, ok := tableNames[t]
	return ok
}

// ParseTable resolves a wire name to a Table.
func ParseTable(s string) (Table, error) {
	for t, name := range tableNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown table %q", s)
}

// RowKey uniquely addresses a row. Players are keyed by Identity,
// every other table by ID.
type RowKey struct {
	Table    Table
	ID       uint64
	Identity Identity
}

// String returns "table:key".
func (k RowKey) String() string {
	if k.Table == TablePlayer {
		return k.Table.String() + ":" + k.Identity.Short()
	}
	return fmt.Sprintf("%s:%d", k.Table, k.ID)
}

// Row is a record held by the authoritative store.
type Row interface {
	Table() Table
	Key() RowKey
	RowVersion() uint64
	CloneRow() Row
}

// Locatable rows have a world position and may belong to a player.
type Locatable interface {
	Row
	Location() Vec2
	OwnerIdentity() Identity
}

// Versioned rows accept a version assigned by the store on commit.
type Versioned interface {
	Row
	SetRowVersion(v uint64)
}
