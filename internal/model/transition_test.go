package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []EntityState{StateIdle, StateWalk, StateDamaged, StateAttack1, StateAttack2, StateAttack3, StateDead}

func TestCanTransition_Graph(t *testing.T) {
	t.Parallel()

	edges := map[EntityState][]EntityState{
		StateIdle:    {StateIdle, StateWalk, StateDamaged, StateAttack1, StateAttack2, StateAttack3, StateDead},
		StateWalk:    {StateIdle, StateWalk, StateDamaged, StateAttack1, StateAttack2, StateAttack3, StateDead},
		StateDamaged: {StateIdle, StateDamaged, StateDead},
		StateAttack1: {StateIdle, StateDamaged, StateAttack1, StateDead},
		StateAttack2: {StateIdle, StateDamaged, StateAttack2, StateDead},
		StateAttack3: {StateIdle, StateDamaged, StateAttack3, StateDead},
		StateDead:    nil,
	}

	for _, from := range allStates {
		allowed := make(map[EntityState]bool)
		for _, to := range edges[from] {
			allowed[to] = true
		}
		for _, to := range allStates {
			assert.Equal(t, allowed[to], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_DeadIsTerminal(t *testing.T) {
	t.Parallel()

	for _, to := range allStates {
		assert.False(t, CanTransition(StateDead, to), "Dead -> %s", to)
		assert.ErrorIs(t, CheckTransition(StateDead, to), ErrEntityDead)
	}
}

func TestCheckTransition(t *testing.T) {
	t.Parallel()

	assert.NoError(t, CheckTransition(StateIdle, StateWalk))
	assert.ErrorIs(t, CheckTransition(StateDamaged, StateWalk), ErrIllegalTransition)
	assert.ErrorIs(t, CheckTransition(StateAttack1, StateAttack2), ErrIllegalTransition)
	assert.ErrorIs(t, CheckTransition(StateIdle, EntityState(42)), ErrIllegalTransition)
}

func TestEntityState_Text(t *testing.T) {
	t.Parallel()

	for _, s := range allStates {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back EntityState
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}

	_, err := ParseEntityState("Flying")
	assert.Error(t, err)
}

func TestEntityState_Attacks(t *testing.T) {
	t.Parallel()

	assert.True(t, StateAttack2.IsAttack())
	assert.False(t, StateDamaged.IsAttack())
	assert.Equal(t, 1, StateAttack2.AttackIndex())
	assert.Equal(t, StateAttack3, AttackState(2))
}
