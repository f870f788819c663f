package logging

import (
	"fmt"
	"log"
	"os"
	"sort"
	"time"
)

const levelFatal = "FATAL"

// writeLog formats and routes a message. DEBUG/INFO/WARN go to stdout,
// ERROR/FATAL to stderr. Fields are rendered sorted for stable output.
func (l *Logger) writeLog(level, msg string, fields map[string]interface{}) {
	logMsg := fmt.Sprintf("[%s] [%s] %s: %s", GetTimestamp(), level, l.name, msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		logMsg += " |"
		for _, k := range keys {
			logMsg += fmt.Sprintf(" %s=%v", k, fields[k])
		}
	}

	if level == strError || level == levelFatal {
		fmt.Fprintf(os.Stderr, "%s\n", logMsg)
	} else {
		log.Println(logMsg)
	}
}

func (l *Logger) logf(level, msg string, args ...interface{}) {
	formatted := fmt.Sprintf(msg, args...)

	var fields map[string]interface{}
	if len(l.fields) > 0 {
		fields = cloneFields(l.fields)
	}
	l.writeLog(level, formatted, fields)
}

// GetTimestamp returns an RFC3339 timestamp. The LOG_TIMESTAMP env var
// overrides it for deterministic test output.
func GetTimestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}
