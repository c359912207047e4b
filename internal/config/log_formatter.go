package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	red         = 31
	yellow      = 33
	blue        = 36
	gray        = 37
	green       = 32
	cyan        = 96
	lightYellow = 93
	lightGreen  = 92
)

// NbFormatter renders entries as key=value lines; the component field goes first, the rest sorted.
type NbFormatter struct {
	NoColors bool
}

func (f *NbFormatter) paint(color int, s string) string {
	if f.NoColors {
		return s
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, s)
}

func (f *NbFormatter) Format(entry *log.Entry) ([]byte, error) {
	levelColor := blue
	switch entry.Level {
	case log.DebugLevel, log.TraceLevel:
		levelColor = gray
	case log.WarnLevel:
		levelColor = yellow
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		levelColor = red
	}

	var b strings.Builder
	b.WriteString(f.paint(cyan, "level") + "=" + f.paint(levelColor, strings.ToUpper(entry.Level.String())[:4]))
	b.WriteString(" " + f.paint(cyan, "ts") + "=" + f.paint(lightYellow, entry.Time.Format("2006-01-02 15:04:05.000")))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == "component" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if _, ok := entry.Data["component"]; ok {
		keys = append([]string{"component"}, keys...)
	}

	for _, k := range keys {
		var s string
		if m, err := json.Marshal(entry.Data[k]); err == nil {
			s = string(m)
		}
		if s == "" || s == "null" {
			continue
		}
		valueColor := cyan
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			valueColor = green
		} else if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") {
			valueColor = lightYellow
		}
		b.WriteString(" " + f.paint(cyan, k) + "=" + f.paint(valueColor, s))
	}
	b.WriteString(" " + f.paint(cyan, "msg") + "=" + f.paint(lightGreen, strconv.Quote(entry.Message)))

	output := strings.ReplaceAll(b.String(), "\r", "\\r")
	output = strings.ReplaceAll(output, "\n", "\\n") + "\n"
	return []byte(output), nil
}

// SetupLogging configures the standard logrus logger; the returned closer releases the log file.
func SetupLogging(cfg *Config) (io.Closer, error) {
	log.SetLevel(log.Level(cfg.LogLevel))
	if cfg.LogFile == "" {
		log.SetFormatter(&NbFormatter{})
		log.SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}

	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetFormatter(&NbFormatter{NoColors: true})
	log.SetOutput(io.MultiWriter(os.Stdout, file))
	return file, nil
}
