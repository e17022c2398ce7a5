package main

import (
	"testing"

	"github.com/rodb2008/corepool/internal/corelog"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]corelog.Level{
		"":      corelog.LevelInfo,
		"info":  corelog.LevelInfo,
		"debug": corelog.LevelDebug,
		"warn":  corelog.LevelWarn,
		"error": corelog.LevelError,
	}
	for name, want := range cases {
		got, err := parseLogLevel(name)
		if err != nil {
			t.Fatalf("parseLogLevel(%q): %v", name, err)
		}
		if got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestParseLogLevelRejectsUnknown(t *testing.T) {
	if _, err := parseLogLevel("verbose"); err == nil {
		t.Fatalf("expected an error for an unrecognized log level")
	}
}
