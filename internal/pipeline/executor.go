package pipeline

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
)

// LoggingExecutor is the default StageExecutor. It records each stage
// invocation and reports success, standing in for real toolchain
// integrations (linters, test harnesses, image builds) that plug in
// through the StageExecutor interface.
type LoggingExecutor struct {
	log logr.Logger
}

// NewLoggingExecutor creates an executor writing through log.
func NewLoggingExecutor(log logr.Logger) *LoggingExecutor {
	return &LoggingExecutor{log: log}
}

// Execute implements StageExecutor.
func (e *LoggingExecutor) Execute(_ context.Context, stage Stage, change Change, input string) (string, string, error) {
	e.log.Info("executing stage", "stage", stage, "change", change.ID)
	output := fmt.Sprintf("%s:%s", change.ID, stage)
	if input != "" {
		output = input + "+" + string(stage)
	}
	return output, fmt.Sprintf("logs/%s/%s", change.ID, stage), nil
}
