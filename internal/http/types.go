package http

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Query string `json:"query"`
	// TopK defaults to the configured value when omitted or non-positive.
	TopK int `json:"top_k"`
}

// IngestRequest is the body of POST /ingest. At least one field is required.
type IngestRequest struct {
	DirectoryPath string   `json:"directory_path"`
	FilePaths     []string `json:"file_paths"`
}

// RootResponse is the body of GET /.
type RootResponse struct {
	Message   string   `json:"message"`
	Mode      string   `json:"mode"`
	Version   string   `json:"version,omitempty"`
	Endpoints []string `json:"endpoints"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
