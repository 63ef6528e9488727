package eventlog

import (
	"fmt"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/scoring"
	"github.com/okian/rally/internal/domain/types"
)

// Highlights renders the chronological feed of a match with running set
// scores. Point events that the engine would refuse are skipped.
func Highlights(match model.Match, rules model.RuleSet, events []model.Event) []types.Highlight {
	ordered := append([]model.Event(nil), events...)
	Order(ordered)

	name := func(side model.Side) string {
		if n := match.Team(side).Name; n != "" {
			return n
		}
		return string(side)
	}

	sets := map[int]model.Set{}
	out := make([]types.Highlight, 0, len(ordered))
	for _, e := range ordered {
		var text string
		switch e.Kind {
		case model.KindPoint:
			cur, ok := sets[e.SetNumber]
			if !ok {
				cur = model.Set{Number: e.SetNumber, Status: model.StatusNotStarted}
			}
			next, err := scoring.ApplyPoint(rules, cur, e.Side, e.Delta)
			if err != nil {
				continue
			}
			sets[e.SetNumber] = next
			if e.Delta < 0 {
				text = fmt.Sprintf("point removed from %s, %s", name(e.Side), next.Score)
			} else {
				text = fmt.Sprintf("point %s, %s", name(e.Side), next.Score)
			}
			if next.Finished() {
				text += fmt.Sprintf("; set %d won by %s", e.SetNumber, name(next.Winner))
			}
		case model.KindTimeout:
			text = "timeout " + name(e.Side)
		case model.KindSubstitution:
			text = "substitution " + name(e.Side)
			if e.Player != "" {
				text += " (" + e.Player + ")"
			}
		default:
			continue
		}
		out = append(out, types.Highlight{
			Seq:       e.Seq,
			SetNumber: e.SetNumber,
			Text:      fmt.Sprintf("Set %d: %s", e.SetNumber, text),
			At:        e.CreatedAt,
		})
	}
	return out
}
