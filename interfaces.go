package devhandler

import (
	"github.com/ehrlich-b/go-devhandler/internal/interfaces"
	"github.com/ehrlich-b/go-devhandler/internal/logging"
)

// Re-export the collaborator contracts so callers only import this package.
type (
	Executor        = interfaces.Executor
	Request         = interfaces.Request
	Response        = interfaces.Response
	SenseClassifier = interfaces.SenseClassifier
)

// Logger is the structured logger used by handlers and targets.
type Logger = logging.Logger
