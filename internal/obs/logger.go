package obs

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Fields is one structured log record. Services collect fields over an
// operation and emit a single line on the way out.
type Fields map[string]interface{}

type Logger struct {
	l    *log.Logger
	base Fields
}

func NewLogger() *Logger {
	return &Logger{
		l: log.New(os.Stdout, "", 0),
	}
}

// With returns a logger that stamps every record with the given fields.
func (lg *Logger) With(base Fields) *Logger {
	merged := Fields{}
	for k, v := range lg.base {
		merged[k] = v
	}
	for k, v := range base {
		merged[k] = v
	}
	return &Logger{l: lg.l, base: merged}
}

func (lg *Logger) Info(fields Fields) {
	lg.emit("info", fields)
}

func (lg *Logger) Error(fields Fields) {
	lg.emit("error", fields)
}

func (lg *Logger) emit(level string, fields Fields) {
	rec := Fields{}
	for k, v := range lg.base {
		rec[k] = v
	}
	for k, v := range fields {
		rec[k] = v
	}
	rec["level"] = level
	rec["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	b, _ := json.Marshal(rec)
	lg.l.Println(string(b))
}
