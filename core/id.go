package core

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// NewArchiverID names an archiver process as host:pid:suffix. The suffix keeps
// ids unique across restarts that reuse a pid.
func NewArchiverID() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "archiver"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), suffix)
}
