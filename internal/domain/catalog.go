package domain

// Voice is a synthesized voice offered by the backend.
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Gender      string `json:"gender"`
	Description string `json:"description"`
	PreviewURL  string `json:"preview_url,omitempty"`
}

// Language is a conversation language offered by the backend.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Catalog is the agent listing together with the voices and languages an
// agent may be configured with.
type Catalog struct {
	Agents             []Agent    `json:"agents"`
	AvailableVoices    []Voice    `json:"available_voices"`
	AvailableLanguages []Language `json:"available_languages"`
}
