package models

import "time"

// Session is a server-tracked conversation thread identified by a client-generated UUID.
type Session struct {
	SessionID string    `json:"sessionId"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AIModel is one selectable model; Group names the provider whose API key it needs.
type AIModel struct {
	Model string `json:"model"`
	Title string `json:"title"`
	Group string `json:"group"`
}

// Credentials is the provider/model/key triple every generation request carries.
type Credentials struct {
	Provider string
	Model    string
	APIKey   string
}
