package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// One JSON object per line on stdout; request logging, audit mirror lines
// and engine diagnostics all funnel through here.
var sharedLogger = sync.OnceValue(func() *log.Logger {
	return log.New(os.Stdout, "", 0)
})

// Logger returns the process-wide line logger.
func Logger() *log.Logger { return sharedLogger() }

// LogRequest marshals entry into a single JSON log line. A marshal failure
// becomes a log line itself: logging is never a reason to fail the request
// being logged.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Printf(`{"level":"error","msg":"unloggable entry","error":%q}`, err.Error())
		return
	}
	Logger().Println(string(data))
}
