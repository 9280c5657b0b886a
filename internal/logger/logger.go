package logger

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Init configures the global logrus logger.
// It is safe to call multiple times; later calls overwrite previous settings.
func Init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}
	if lvl, err := log.ParseLevel(levelStr); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// SetProcess tags every subsequent log entry with the relay process role
// (orchestrator, listener-2, worker, ...). Called once after Init so log
// lines from the different processes can be told apart in shared output.
func SetProcess(name string) {
	log.AddHook(&processHook{name: name})
}

type processHook struct {
	name string
}

func (h *processHook) Levels() []log.Level { return log.AllLevels }

func (h *processHook) Fire(entry *log.Entry) error {
	entry.Data["proc"] = h.name
	return nil
}

// L returns the global logger for convenience.
func L() *log.Logger { return log.StandardLogger() }
