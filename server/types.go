package server

import (
	"time"

	"github.com/teranos/scribe/diagnostics"
	"github.com/teranos/scribe/pulse/async"
	"github.com/teranos/scribe/version"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client message queues
	MaxClientMessageQueueSize = 256
	// ShutdownTimeout bounds how long Stop waits for server goroutines
	ShutdownTimeout = 10 * time.Second
)

// Request field names for POST /jobs
const (
	FormFieldFile = "file"
	FormFieldURL  = "url"
)

// Client-facing error messages
const (
	msgBothSources   = "Provide either file or url, not both"
	msgNoSource      = "Either file or url must be provided"
	msgEmptyUpload   = "Uploaded file is empty"
	msgJobNotFound   = "Job not found"
	msgNoResult      = "Result not available"
	msgRateLimited   = "Too many submissions, slow down."
	msgUploadTooBig  = "Uploaded file is too large."
	msgShuttingDown  = "Server is shutting down."
	msgTooManyConns  = "Too many connections."
	msgInternalError = "Internal server error"
)

// ServerState represents the server lifecycle state
type ServerState int32

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

// CreateJobResponse is returned by POST /jobs
type CreateJobResponse struct {
	ID string `json:"id"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status      string              `json:"status"` // "ok" or "degraded"
	Version     version.Info        `json:"version"`
	QueueDepth  int                 `json:"queue_depth"`
	Metrics     async.SystemMetrics `json:"metrics"`
	Diagnostics *diagnostics.Report `json:"diagnostics,omitempty"`
}

// JobUpdateMessage is pushed to WebSocket clients on every job change
type JobUpdateMessage struct {
	Type string     `json:"type"` // "job_update" or "job_snapshot"
	Job  *async.Job `json:"job"`
}

const (
	messageJobUpdate   = "job_update"
	messageJobSnapshot = "job_snapshot"
)
