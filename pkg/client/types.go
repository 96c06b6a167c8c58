package client

// BuildRequest asks the gate to build one commit.
type BuildRequest struct {
	Branch      string `json:"branch"`
	Commit      string `json:"commit"`
	Command     string `json:"command,omitempty"`
	IsTestBuild bool   `json:"is_test_build,omitempty"`
}

// AssetBuildRequest asks the gate to build a session's uploaded assets.
type AssetBuildRequest struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command,omitempty"`
}

// BuildDecision is the gate's answer to a build request.
type BuildDecision struct {
	Cached    bool   `json:"cached"`
	BuildID   string `json:"build_id,omitempty"`
	ObjectKey string `json:"object_key"`
	URL       string `json:"url,omitempty"`
	Message   string `json:"message"`
}

// StatusResult is the answer to a status query. Exactly one shape is
// filled: the record fields, Key plus a not_found Status, or Message
// alone.
type StatusResult struct {
	Key              string `json:"key,omitempty"`
	Status           string `json:"status,omitempty"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
	BuildID          string `json:"build_id,omitempty"`
	Message          string `json:"message,omitempty"`
}

// StatusNotification injects one status record directly, bypassing the
// listener.
type StatusNotification struct {
	Commit    string `json:"commit,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status"`
	GCSPath   string `json:"gcs_path,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	BuildID   string `json:"build_id,omitempty"`
}

// Commit is one commit from the configured repository.
type Commit struct {
	Hash      string `json:"hash"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// UploadURLRequest asks for a signed upload URL for a session asset.
type UploadURLRequest struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename,omitempty"`
}

// URLResponse carries a signed URL, or an "Error: ..." string when the
// daemon could not issue one.
type URLResponse struct {
	URL string `json:"url"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
