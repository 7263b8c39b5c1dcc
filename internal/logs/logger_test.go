package logs

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/bmizerany/assert"
)

func TestDefaultLogger_Level(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewLogger(buf, Warn)
	ctx := context.Background()
	l.Info(ctx, "chunk committed, stepName:%v", "export")
	assert.Equal(t, 0, buf.Len())

	l.Error(ctx, "flush failed, stepName:%v", "export")
	out := buf.String()
	assert.Equal(t, true, strings.Contains(out, "[ERROR]"))
	assert.Equal(t, true, strings.Contains(out, "flush failed, stepName:export"))
	assert.Equal(t, true, strings.Contains(out, "logger_test.go:"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, Debug, ParseLevel("debug"))
	assert.Equal(t, Error, ParseLevel("ERROR"))
	assert.Equal(t, Info, ParseLevel("verbose"))
}
