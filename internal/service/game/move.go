package game

import "github.com/park285/Cheese-Arena/internal/chess/rules"

// applyMove validates and plays one candidate. On a terminal position it
// is a no-op: the position comes back unchanged with applied=false and no
// legality check is made.
func applyMove(oracle Rules, pos rules.Position, c rules.Candidate) (rules.Position, string, bool, error) {
	if oracle.Classify(pos).Terminal() {
		return pos, "", false, nil
	}
	next, san, err := oracle.Apply(pos, c)
	if err != nil {
		return pos, "", false, err
	}
	return next, san, true, nil
}
