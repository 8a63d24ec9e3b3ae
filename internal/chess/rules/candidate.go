package rules

import (
	"fmt"
	"regexp"
	"strings"
)

var coordinatePattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

// Candidate is a move proposal in origin/destination/promotion form.
type Candidate struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// NewCandidate normalizes a long-format triple. Promotion accepts either
// the piece letter or its name.
func NewCandidate(from, to, promotion string) (Candidate, error) {
	c := Candidate{
		From:      strings.ToLower(strings.TrimSpace(from)),
		To:        strings.ToLower(strings.TrimSpace(to)),
		Promotion: normalizePromotion(promotion),
	}
	if !coordinatePattern.MatchString(c.UCI()) {
		return Candidate{}, fmt.Errorf("%w: %q -> %q (%q)", ErrInvalidCandidate, from, to, promotion)
	}
	return c, nil
}

// ParseCandidate reads the 4-5 character coordinate form used by engines.
func ParseCandidate(s string) (Candidate, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if !coordinatePattern.MatchString(raw) {
		return Candidate{}, fmt.Errorf("%w: %q", ErrInvalidCandidate, s)
	}
	c := Candidate{From: raw[0:2], To: raw[2:4]}
	if len(raw) == 5 {
		c.Promotion = raw[4:5]
	}
	return c, nil
}

func (c Candidate) UCI() string {
	return c.From + c.To + c.Promotion
}

func (c Candidate) withPromotion(p string) Candidate {
	c.Promotion = p
	return c
}

func normalizePromotion(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "q", "queen":
		return "q"
	case "r", "rook":
		return "r"
	case "b", "bishop":
		return "b"
	case "n", "knight":
		return "n"
	case "":
		return ""
	default:
		// invalid letters are left in place so validation rejects them
		return strings.ToLower(strings.TrimSpace(raw))
	}
}
