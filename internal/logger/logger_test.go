package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestToZapLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		DebugLevel: zapcore.DebugLevel,
		InfoLevel:  zapcore.InfoLevel,
		WarnLevel:  zapcore.WarnLevel,
		ErrorLevel: zapcore.ErrorLevel,
		"bogus":    defaultZapLevel,
	}
	for in, want := range cases {
		if got := toZapLevel(in); got != want {
			t.Fatalf("toZapLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	l := New(WarnLevel, JSONFormat)
	if l.Desugar().Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info must be disabled at warn level")
	}
	if !l.Desugar().Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("error must be enabled at warn level")
	}
}

func TestNop_With(t *testing.T) {
	l := Nop().With("conn_id", "abc")
	l.Infow("nothing_written")
	if l.SugaredLogger == nil {
		t.Fatalf("expected wrapped logger")
	}
}
