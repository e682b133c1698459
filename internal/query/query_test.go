package query

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/realmsync/internal/model"
)

const selfID = model.Identity("c0a80001")

func TestWindow_RoundTrip(t *testing.T) {
	t.Parallel()

	r := model.Rect{MinX: -500, MinY: 100.5, MaxX: 1500, MaxY: 1e6}

	text, err := Window(model.TablePlayer, r, selfID)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM player WHERE x >= -500 AND x <= 1500 AND y >= 100.5 AND y <= 1e+06 AND identity != 0xc0a80001",
		text)

	f, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, model.TablePlayer, f.Table)
	bounds, ok := f.Bounds()
	require.True(t, ok)
	assert.Equal(t, r, bounds)
}

func TestWindow_RejectsBadInput(t *testing.T) {
	t.Parallel()

	r := model.Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}

	_, err := Window(model.TableEntity, model.Rect{MinX: 10, MaxX: 0}, "")
	assert.Error(t, err, "inverted bounds")

	nan := model.Rect{MinX: 0, MinY: 0, MaxX: math.NaN(), MaxY: 10}
	_, err = Window(model.TableEntity, nan, "")
	assert.Error(t, err, "NaN bound")

	_, err = Window(model.TableEntity, r, "zz' OR 1=1")
	assert.ErrorIs(t, err, model.ErrInvalidIdentity)

	_, err = Window(model.Table(99), r, "")
	assert.Error(t, err, "unknown table")
}

func TestParse_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		conds int
	}{
		{"unfiltered", "SELECT * FROM enemy", 0},
		{"lowercase keywords", "select * from enemy where x >= 1", 1},
		{"kind", "SELECT * FROM enemy WHERE kind = 'cave_rat'", 1},
		{"id", "SELECT * FROM enemy WHERE id != 7", 1},
		{"no spaces", "SELECT * FROM enemy WHERE x>=-5 AND y<=+5.25", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Len(t, f.Conds, tt.conds)
		})
	}
}

func TestParse_RejectsInjection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"non numeric bound", "SELECT * FROM enemy WHERE x >= abc"},
		{"number glued to word", "SELECT * FROM enemy WHERE x >= 12abc"},
		{"nan", "SELECT * FROM enemy WHERE x >= NaN"},
		{"or clause", "SELECT * FROM enemy WHERE x >= 1 OR 1 = 1"},
		{"trailing garbage", "SELECT * FROM enemy WHERE x >= 1 ; DROP TABLE enemy"},
		{"non hex identity", "SELECT * FROM player WHERE identity != 0xzz"},
		{"odd identity", "SELECT * FROM player WHERE identity != 0xabc"},
		{"quoted identity", "SELECT * FROM player WHERE identity != 'abc'"},
		{"string with quote", "SELECT * FROM enemy WHERE kind = 'a' OR 'b'"},
		{"uppercase kind", "SELECT * FROM enemy WHERE kind = 'Rat'"},
		{"ordering on identity", "SELECT * FROM player WHERE identity > 0xaa"},
		{"unknown table", "SELECT * FROM secrets"},
		{"unknown column", "SELECT * FROM enemy WHERE hp < 10"},
		{"empty", ""},
		{"stray bang", "SELECT * FROM enemy WHERE x ! 1"},
		{"unterminated", "SELECT * FROM enemy WHERE kind = 'rat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestFilter_Match(t *testing.T) {
	t.Parallel()

	f, err := WindowFilter(model.TablePlayer, model.Rect{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}, selfID)
	require.NoError(t, err)

	peer := &model.Player{Identity: "aa", Position: model.V(50, 50)}
	self := &model.Player{Identity: selfID, Position: model.V(50, 50)}
	far := &model.Player{Identity: "bb", Position: model.V(150, 50)}
	edge := &model.Player{Identity: "cc", Position: model.V(100, 0)}
	entity := &model.Entity{ID: 1, Position: model.V(50, 50)}

	assert.True(t, f.Match(peer))
	assert.False(t, f.Match(self), "own identity is excluded")
	assert.False(t, f.Match(far))
	assert.True(t, f.Match(edge), "bounds are inclusive")
	assert.False(t, f.Match(entity), "other table")
	assert.False(t, f.Match(nil))
}

func TestFilter_MatchKindAndID(t *testing.T) {
	t.Parallel()

	f, err := Parse("SELECT * FROM enemy WHERE kind = 'boss' AND id > 10")
	require.NoError(t, err)

	assert.True(t, f.Match(&model.Entity{ID: 11, Kind: "boss"}))
	assert.False(t, f.Match(&model.Entity{ID: 10, Kind: "boss"}))
	assert.False(t, f.Match(&model.Entity{ID: 11, Kind: "rat"}))

	_, ok := f.Bounds()
	assert.False(t, ok)
}

func TestCache_Compile(t *testing.T) {
	t.Parallel()

	c, err := NewCache(16)
	require.NoError(t, err)
	defer c.Close()

	text := All(model.TableEntity)
	f1, err := c.Compile(text)
	require.NoError(t, err)
	c.Wait()

	f2, err := c.Compile(text)
	require.NoError(t, err)
	assert.Equal(t, f1.String(), f2.String())
	assert.True(t, f2.Unfiltered())

	_, err = c.Compile("SELECT nope")
	assert.ErrorIs(t, err, ErrSyntax)
}
