package query

import (
	"fmt"
	"math"

	"github.com/udisondev/realmsync/internal/model"
)

// All returns the unfiltered query for table.
func All(table model.Table) string {
	return (&Filter{Table: table}).String()
}

// Window builds the spatial subscription filter:
//
//	SELECT * FROM <table> WHERE x >= minX AND x <= maxX AND y >= minY AND y <= maxY [AND identity != 0x<self>]
//
// Bounds must be finite and ordered; self, when set, must be hexadecimal.
func Window(table model.Table, r model.Rect, self model.Identity) (string, error) {
	f, err := WindowFilter(table, r, self)
	if err != nil {
		return "", err
	}
	return f.String(), nil
}

// WindowFilter is Window returning the compiled filter.
func WindowFilter(table model.Table, r model.Rect, self model.Identity) (*Filter, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("window filter: unknown table %d", table)
	}
	for _, f := range [...]float64{r.MinX, r.MinY, r.MaxX, r.MaxY} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("window filter: non-finite bound %v", f)
		}
	}
	if !r.Valid() {
		return nil, fmt.Errorf("window filter: inverted bounds %+v", r)
	}

	f := &Filter{
		Table: table,
		Conds: []Cond{
			{Col: ColX, Op: OpGE, Num: r.MinX},
			{Col: ColX, Op: OpLE, Num: r.MaxX},
			{Col: ColY, Op: OpGE, Num: r.MinY},
			{Col: ColY, Op: OpLE, Num: r.MaxY},
		},
	}
	if !self.IsZero() {
		id, err := model.ParseIdentity(string(self))
		if err != nil {
			return nil, fmt.Errorf("window filter: %w", err)
		}
		f.Conds = append(f.Conds, Cond{Col: ColIdentity, Op: OpNE, Str: string(id)})
	}
	return f, nil
}
