package trajingest

import (
	"os"

	"github.com/chararch/trajingest/internal/logs"
)

// log
var logger logs.Logger = logs.NewLogger(os.Stdout, logs.Info)

// SetLogger set a logger instance for all pipelines
func SetLogger(l logs.Logger) {
	if l == nil {
		l = logs.Nop
	}
	logger = l
}
