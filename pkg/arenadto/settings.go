package arenadto

// Preferences mirrors the stored user preferences on the wire.
type Preferences struct {
	GameMode          string `json:"gameMode"`
	AIDifficulty      int    `json:"aiDifficulty"`
	WhiteAIDifficulty int    `json:"whiteAIDifficulty"`
	BlackAIDifficulty int    `json:"blackAIDifficulty"`
	PlayerColor       string `json:"playerColor"`
	BoardOrientation  string `json:"boardOrientation"`

	ToggleLocalTwoPlayer bool `json:"toggleLocalTwoPlayer"`
	ToggleVsAI           bool `json:"toggleVsAI"`
	ToggleAIVsAI         bool `json:"toggleAIVSAI"`
}

type Settings struct {
	SessionID   string      `json:"sessionId"`
	Preferences Preferences `json:"preferences"`
}

type Message struct {
	Message string `json:"message"`
}
