// Package combat applies damage to entities, keeps the per-entity damage
// log and splits kill rewards between contributors.
package combat

import (
	"github.com/shopspring/decimal"

	"github.com/udisondev/realmsync/internal/model"
)

// Share is one contributor's part of a kill.
type Share struct {
	Attacker model.Identity
	Damage   decimal.Decimal
	Fraction decimal.Decimal // Damage / total damage
	Reward   int64
}

// Apportion splits reward between the attackers found in events in
// proportion to the damage each dealt. Every contributor's reward is
// rounded up, with a minimum of one unit when reward is positive, so the
// sum can exceed reward. Shares are ordered by first hit.
func Apportion(events []model.DamageEvent, reward int64) []Share {
	var order []model.Identity
	byID := make(map[model.Identity]decimal.Decimal, 4)
	total := decimal.Zero
	for _, ev := range events {
		if ev.Amount <= 0 || ev.Attacker.IsZero() {
			continue
		}
		amt := decimal.NewFromFloat(ev.Amount)
		cur, seen := byID[ev.Attacker]
		if !seen {
			order = append(order, ev.Attacker)
		}
		byID[ev.Attacker] = cur.Add(amt)
		total = total.Add(amt)
	}
	if total.IsZero() {
		return nil
	}

	pool := decimal.NewFromInt(reward)
	one := decimal.NewFromInt(1)
	shares := make([]Share, 0, len(order))
	for _, id := range order {
		dmg := byID[id]
		s := Share{
			Attacker: id,
			Damage:   dmg,
			Fraction: dmg.Div(total),
		}
		if reward > 0 {
			r := pool.Mul(dmg).Div(total).Ceil()
			if r.LessThan(one) {
				r = one
			}
			s.Reward = r.IntPart()
		}
		shares = append(shares, s)
	}
	return shares
}
