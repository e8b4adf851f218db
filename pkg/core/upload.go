// pkg/core/upload.go
package core

// UploadMetadata describes an exported run report for the results server.
type UploadMetadata struct {
	RunID    string
	Site     string
	Duration float64 // seconds
	Outcome  string
}
