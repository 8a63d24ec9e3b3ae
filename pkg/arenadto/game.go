package arenadto

// MoveRequest accepts either coordinates or a single UCI string.
type MoveRequest struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	Move      string `json:"move,omitempty"`
}

type AutoPlayRequest struct {
	Active bool `json:"active"`
}

type PGN struct {
	PGN string `json:"pgn"`
}

type BookMove struct {
	Move   string `json:"move"`
	Weight int    `json:"weight"`
}

type Opening struct {
	Code  string     `json:"code,omitempty"`
	Title string     `json:"title,omitempty"`
	Moves []BookMove `json:"moves"`
}

type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
