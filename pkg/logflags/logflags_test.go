package logflags

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}

func reset() {
	engine, hooks, breakpoints, capture = false, false, false, false
	loggerFactory = nil
	logOut = nil
}

func TestLoggerFactory(t *testing.T) {
	defer reset()
	logOut = &bufferWriter{}

	var gotLevel logrus.Level
	var gotFields Fields
	var gotOut io.Writer
	want := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, out io.Writer) Logger {
		gotLevel, gotFields, gotOut = level, fields, out
		return want
	})

	hooks = true
	if l := HooksLogger(); l != want {
		t.Fatalf("factory logger not used, got %v", l)
	}
	if gotLevel != logrus.DebugLevel {
		t.Fatalf("expected level %v; got %v", logrus.DebugLevel, gotLevel)
	}
	if gotFields["layer"] != "hooks" {
		t.Fatalf("expected layer field hooks; got %v", gotFields)
	}
	if gotOut != logOut {
		t.Fatalf("expected out %v; got %v", logOut, gotOut)
	}

	CaptureLogger()
	if gotLevel != logrus.ErrorLevel || gotFields["layer"] != "capture" {
		t.Fatalf("disabled layer got level %v fields %v", gotLevel, gotFields)
	}
}

func TestLayerLevels(t *testing.T) {
	defer reset()
	for _, tc := range []struct {
		flag  *bool
		mk    func() Logger
		layer string
	}{
		{&engine, EngineLogger, "engine"},
		{&hooks, HooksLogger, "hooks"},
		{&breakpoints, BreakpointsLogger, "breakpoints"},
		{&capture, CaptureLogger, "capture"},
	} {
		for _, on := range []bool{false, true} {
			*tc.flag = on
			l, ok := tc.mk().(*logrusLogger)
			if !ok {
				t.Fatalf("%s: expected a logrus logger", tc.layer)
			}
			want := logrus.ErrorLevel
			if on {
				want = logrus.DebugLevel
			}
			if l.Logger.Level != want {
				t.Errorf("%s enabled=%v: expected level %v; got %v", tc.layer, on, want, l.Logger.Level)
			}
			if l.Data["layer"] != tc.layer {
				t.Errorf("%s: unexpected fields %v", tc.layer, l.Data)
			}
			if l.Logger.Formatter != textFormatterInstance {
				t.Errorf("%s: default formatter not used", tc.layer)
			}
		}
	}
}

func TestTextFormatter(t *testing.T) {
	defer reset()
	out := &bufferWriter{}
	logOut = out
	engine = true

	EngineLogger().WithFields(Fields{"pid": 42, "image": "C:/Program Files/client.exe"}).WithError(errors.New("boom")).Infof("attached")

	line := out.String()
	if !strings.HasSuffix(line, " info error=boom,image=\"C:/Program Files/client.exe\",layer=engine,pid=42 attached\n") {
		t.Fatalf("unexpected log line %q", line)
	}
	if _, err := time.Parse(time.RFC3339, line[:strings.Index(line, " info")]); err != nil {
		t.Fatalf("bad timestamp in %q: %v", line, err)
	}
}

func TestSetup(t *testing.T) {
	defer reset()
	if err := Setup(false, "hooks", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected errLogstrWithoutLog; got %v", err)
	}
	if err := Setup(true, "hooks,capture", ""); err != nil {
		t.Fatal(err)
	}
	if engine || !hooks || breakpoints || !capture {
		t.Fatalf("unexpected flags engine=%v hooks=%v breakpoints=%v capture=%v", engine, hooks, breakpoints, capture)
	}
	if err := Setup(true, "", ""); err != nil {
		t.Fatal(err)
	}
	if !engine {
		t.Fatal("engine logging not enabled by default")
	}
}
