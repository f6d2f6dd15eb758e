package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	initLogger sync.Once
	stdout     *log.Logger
)

// Logger returns the process-wide line logger. Every line it emits is a
// bare JSON object, no prefix and no timestamp flag.
func Logger() *log.Logger {
	initLogger.Do(func() {
		stdout = log.New(os.Stdout, "", 0)
	})
	return stdout
}

// LogRequest marshals the entry and writes it as one JSON line.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Printf(`{"level":"error","msg":"log entry dropped","error":%q}`, err.Error())
		return
	}
	Logger().Println(string(data))
}
