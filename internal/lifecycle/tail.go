package lifecycle

import (
	"io"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const tailLines = 20

// tail returns the last n lines of path, or a placeholder when unreadable.
func tail(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return "(unavailable: " + err.Error() + ")"
	}
	defer func() { _ = f.Close() }()
	const window = 64 << 10
	if fi, err := f.Stat(); err == nil && fi.Size() > window {
		_, _ = f.Seek(fi.Size()-window, io.SeekStart)
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return "(unavailable: " + err.Error() + ")"
	}
	lines := strings.Split(strings.TrimRight(string(b), "\r\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// rotateTranscript moves the previous transcript aside so a failed start
// only shows output from the current attempt.
func rotateTranscript(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	lj := &lumberjack.Logger{Filename: path, MaxBackups: 3}
	defer func() { _ = lj.Close() }()
	return lj.Rotate()
}
