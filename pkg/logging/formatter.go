package logging

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	textTimeLayout = "2006-01-02 15:04:05.000"
	jsonTimeLayout = time.RFC3339Nano
)

var levelColors = map[Level]string{
	DebugLevel: "\033[90m",
	InfoLevel:  "\033[34m",
	WarnLevel:  "\033[33m",
	ErrorLevel: "\033[31m",
	FatalLevel: "\033[31m",
}

// TextFormatter writes one line per entry:
//
//	2024-01-02 15:04:05.000 [INFO] [req] seq=urn:uuid:1 chan=c-7 table/admit: message | k=v
//
// Correlation fields found on the entry go into the header and are left
// out of the trailing key=value list.
type TextFormatter struct {
	DisableColors    bool
	DisableTimestamp bool
}

// NewTextFormatter returns a colored text formatter with timestamps
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{}
}

// Format renders entry as text
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var b strings.Builder

	if !f.DisableTimestamp {
		b.WriteString(entry.Timestamp.Format(textTimeLayout))
		b.WriteByte(' ')
	}

	level := "[" + entry.Level.String() + "]"
	if color, ok := levelColors[entry.Level]; ok && !f.DisableColors {
		level = color + level + "\033[0m"
	}
	b.WriteString(level)
	b.WriteByte(' ')

	inHeader := map[string]bool{KeyRequestID: true}
	if entry.RequestID != "" {
		fmt.Fprintf(&b, "[%s] ", entry.RequestID)
	}
	if entry.SequenceID != "" {
		fmt.Fprintf(&b, "seq=%s ", entry.SequenceID)
		inHeader[KeySequenceID] = true
	}
	if entry.ChannelID != "" {
		fmt.Fprintf(&b, "chan=%s ", entry.ChannelID)
		inHeader[KeyChannelID] = true
	}
	if entry.Component != "" {
		b.WriteString(entry.Component)
		inHeader[KeyComponent] = true
		if entry.Operation != "" {
			b.WriteString("/" + entry.Operation)
			inHeader[KeyOperation] = true
		}
		b.WriteString(": ")
	}

	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		if !inHeader[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			b.WriteString(" " + k + "=" + textValue(entry.Fields[k]))
		}
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func textValue(v interface{}) string {
	switch val := v.(type) {
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	case string:
		if strings.ContainsAny(val, " \t\n") {
			return fmt.Sprintf("%q", val)
		}
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// JSONFormatter writes one JSON object per line with level, message,
// timestamp and every field at the top level. Errors are written as their
// message.
type JSONFormatter struct {
	DisableTimestamp bool
}

// NewJSONFormatter returns a JSON formatter with RFC 3339 timestamps
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Format renders entry as JSON
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	obj := make(map[string]interface{}, len(entry.Fields)+3)
	for k, v := range entry.Fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		obj[k] = v
	}
	obj["level"] = entry.Level.String()
	obj["message"] = entry.Message
	if !f.DisableTimestamp {
		obj["timestamp"] = entry.Timestamp.Format(jsonTimeLayout)
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal log entry %q: %w", entry.Message, err)
	}
	return append(out, '\n'), nil
}
