package http

// ChatRequest is the request body for POST /v1/chatbot.
type ChatRequest struct {
	Query    string `json:"query"`
	UserName string `json:"user_name"`
}

// ChatResponse is the response body for POST /v1/chatbot.
type ChatResponse struct {
	Message string   `json:"message"`
	Info    ChatInfo `json:"info"`
}

// ChatInfo carries the answer.
type ChatInfo struct {
	Status    bool   `json:"status"`
	Response  string `json:"response"`
	Sources   int    `json:"sources"`
	NoContext bool   `json:"no_context,omitempty"`
}

// IndexingResponse is the response body for POST /v1/indexing.
type IndexingResponse struct {
	Message string       `json:"message"`
	Info    IndexingInfo `json:"info"`
}

// IndexingInfo summarizes the indexing run.
type IndexingInfo struct {
	Status string   `json:"status"`
	RunID  string   `json:"run_id,omitempty"`
	Files  []string `json:"files,omitempty"`
	Stored int      `json:"stored"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	VectorStore string `json:"vector_store,omitempty"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}
