package analysis

import "github.com/park285/Cheese-Arena/internal/chess/uci"

// Evaluation is the running engine assessment of one position.
type Evaluation struct {
	FEN      string   `json:"fen"`
	ScoreCP  *int     `json:"scoreCp,omitempty"`
	Mate     *int     `json:"mate,omitempty"`
	Depth    int      `json:"depth"`
	BestMove string   `json:"bestMove,omitempty"`
	PV       []string `json:"pv,omitempty"`
	Nodes    int64    `json:"nodes,omitempty"`
	NPS      int64    `json:"nps,omitempty"`
}

// merge overwrites only the fields present in info. A centipawn score
// clears a previous mate score.
func (e Evaluation) merge(info uci.Info) Evaluation {
	if info.Depth != nil {
		e.Depth = *info.Depth
	}
	if info.ScoreCP != nil {
		v := *info.ScoreCP
		e.ScoreCP = &v
		e.Mate = nil
	}
	if info.Mate != nil {
		v := *info.Mate
		e.Mate = &v
	}
	if info.Nodes != nil {
		e.Nodes = *info.Nodes
	}
	if info.NPS != nil {
		e.NPS = *info.NPS
	}
	if len(info.PV) > 0 {
		e.PV = append([]string(nil), info.PV...)
		e.BestMove = info.PV[0]
	}
	return e
}

// Clone deep-copies the pointer and slice fields.
func (e Evaluation) Clone() Evaluation {
	if e.ScoreCP != nil {
		v := *e.ScoreCP
		e.ScoreCP = &v
	}
	if e.Mate != nil {
		v := *e.Mate
		e.Mate = &v
	}
	e.PV = append([]string(nil), e.PV...)
	return e
}
