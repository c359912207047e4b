package config

import (
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestNbFormatterPlainOrdering(t *testing.T) {
	t.Parallel()

	entry := &log.Entry{
		Logger:  log.New(),
		Level:   log.WarnLevel,
		Time:    time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Message: "strike\nrecorded",
		Data: log.Fields{
			"user_id":   int64(42),
			"component": "moderation",
			"chat_id":   int64(-100),
			"empty":     nil,
		},
	}

	out, err := (&NbFormatter{NoColors: true}).Format(entry)
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	want := `level=WARN ts=2024-01-15 10:30:00.000 component="moderation" chat_id=-100 user_id=42 msg="strike\nrecorded"` + "\n"
	if string(out) != want {
		t.Fatalf("unexpected line:\n got %q\nwant %q", out, want)
	}
}

func TestNbFormatterColorsLevel(t *testing.T) {
	t.Parallel()

	entry := &log.Entry{Logger: log.New(), Level: log.ErrorLevel, Time: time.Now(), Message: "boom"}
	out, err := (&NbFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.Contains(string(out), "\x1b[31mERRO\x1b[0m") {
		t.Fatalf("expected red level marker, got %q", out)
	}
}
