package models

import "time"

// QueryRequest is the body of POST /query
type QueryRequest struct {
	Query string `json:"query" validate:"required,notblank,max=4000"`
	// SessionID is accepted for client compatibility and not used.
	SessionID *string `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

// Source is a document a generated answer was grounded on
type Source struct {
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// QueryResponse is the body returned by POST /query. Sources is always
// encoded as an array, never null.
type QueryResponse struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// NewQueryResponse builds a response with an empty sources list
func NewQueryResponse(answer string) *QueryResponse {
	return &QueryResponse{
		Answer:  answer,
		Sources: []Source{},
	}
}

// LoginRequest is the form body of POST /token
type LoginRequest struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

// Token is an issued access token
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"-"`
}

// TokenTypeBearer is the only token type issued
const TokenTypeBearer = "bearer"
