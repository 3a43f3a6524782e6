package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	SetLevel(LevelAll)
	func() {
		defer func() {
			err := recover()
			if err != nil {
				t.Errorf("recorver returned err: %s", err)
			}
		}()
		SetLevel(1000)
	}()
	SetLevel(LevelInfo)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{name: "debug", want: LevelDebug},
		{name: " WARN ", want: LevelWarn},
		{name: "none", want: LevelNone},
		{name: "loud", want: LevelInfo, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lvl, err := ParseLevel(tt.name)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.want, lvl)
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New("VR", buf, LevelWarn)
	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("shown %d", 3)
	l.Error("shown %d", 4)

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "[VR] ")
	require.Contains(t, out, "[WRN] shown 3")
	require.Contains(t, out, "[ERR] shown 4")
}

func TestPrefixed(t *testing.T) {
	buf := &bytes.Buffer{}
	p := &Prefixed{Logger: New("", buf, LevelAll), Prefix: "[vr 42] "}
	p.Debug("state %s", "clean")
	require.True(t, strings.Contains(buf.String(), "[DBG] [vr 42] state clean"))
}

func Test_Default(t *testing.T) {
	Debug("log.Debug")
	Info("log.Info")
	Warn("log.Warn")
	Error("log.Error")
}
