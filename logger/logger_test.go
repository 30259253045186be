package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/featurebasedb/gateway/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Verbosity(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewLogger(&buf, false)
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "INFO:  shown 2")

	buf.Reset()
	l = logger.NewLogger(&buf, true)
	l.Debugf("shown %d", 3)
	assert.Contains(t, buf.String(), "DEBUG: shown 3")
}

func TestStandardLogger_WithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewStandardLogger(&buf).WithPrefix("[fragmenter] ").WithPrefix("[req-1] ")
	l.Warnf("slow listing")

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "[fragmenter] [req-1] WARN:  slow listing")
}

func TestBufferLogger(t *testing.T) {
	b := logger.NewBufferLogger()
	b.WithPrefix("ignored ").Errorf("boom: %v", "disk")
	b.Printf("done")
	require.Equal(t, "ERROR: boom: disk\nINFO:  done\n", b.String())
}

type logfRecorder struct{ lines []string }

func (r *logfRecorder) Logf(format string, v ...interface{}) {
	r.lines = append(r.lines, format)
}

func TestLogfLogger(t *testing.T) {
	r := &logfRecorder{}
	l := logger.NewLogfLogger(r).WithPrefix("[s3] ")
	l.Debugf("listing %s", "bucket")
	require.Equal(t, []string{"[s3] DEBUG: listing %s"}, r.lines)
}
