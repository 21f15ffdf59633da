package common

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// NewRequestID generates a unique request correlation ID.
// Format: req_<uuid>
func NewRequestID() string {
	return "req_" + uuid.New().String()
}

// WorkerID builds the lock-owner identifier a worker writes into claimed
// jobs: {hostname}-{pid}, optionally with a role segment in between so
// discovery and profile workers on one host are distinguishable.
func WorkerID(role string) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if role != "" {
		return fmt.Sprintf("%s-%s-%d", hostname, role, os.Getpid())
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
