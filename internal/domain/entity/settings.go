package entity

type Settings struct {
	// AutoCallTools runs a detected tool call without user confirmation.
	AutoCallTools bool `json:"autoCallTools"`
}

func DefaultSettings() Settings {
	return Settings{AutoCallTools: false}
}
