package domain

// TokenPair holds the short-lived access token and the long-lived refresh
// token issued by the backend. A pair missing either field is treated as
// absent everywhere in the client.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Valid reports whether both tokens are present.
func (t *TokenPair) Valid() bool {
	return t != nil && t.Access != "" && t.Refresh != ""
}
