package models

// Model describes one public alias as exposed by /v1/models.
type Model struct {
	Alias         string `json:"alias"`
	Provider      string `json:"provider"`
	Deployment    string `json:"deployment"`
	Capability    string `json:"capability"`
	Routes        int    `json:"routes"`
	Streaming     bool   `json:"streaming"`
	SupportsTools bool   `json:"supports_tools"`
}
