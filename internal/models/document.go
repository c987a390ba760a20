package models

import "time"

// Document is the raw result of one fetch. It lives only until extraction.
type Document struct {
	SourceURL   string
	RawMarkup   string
	ContentType string
	FetchedAt   time.Time
}

// ExtractedText is the cleaned text handed to the generation step.
type ExtractedText struct {
	Text      string
	CharCount int
	SourceRef string
}

type Budget struct {
	MaxInputChars  int
	MaxOutputWords int
}

// Summary is the generated summary a session converses about.
type Summary struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	WordTarget int       `json:"word_target"`
	ModelID    string    `json:"model_id"`
	CreatedAt  time.Time `json:"created_at"`
	SourceRef  string    `json:"source_ref"`
}

type PolicyDecision struct {
	URL       string    `json:"url"`
	Agent     string    `json:"agent"`
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	CheckedAt time.Time `json:"checked_at"`
}
