package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// One process-wide line logger; every component writes through it so
// stdout stays strictly one JSON object per line.
var (
	lineOnce   sync.Once
	lineLogger *log.Logger
)

// Logger returns the shared line logger. No prefix, no flags; callers
// supply fully formed lines.
func Logger() *log.Logger {
	lineOnce.Do(func() {
		lineLogger = log.New(os.Stdout, "", 0)
	})
	return lineLogger
}

// LogRequest renders entry as a single JSON line. Absent fields are simply
// omitted; when the entry itself cannot marshal, a fixed error line is
// written in its place so the stream stays parseable.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log entry marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
