package importer

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"
)

// logCapture records everything a job logs so it can be attached to the
// ProblemSourceImport row, while mirroring entries to the daemon logger.
type logCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// newLogCapture returns a job-scoped logger and the capture backing it.
func newLogCapture(parent *logrus.Entry) (*logrus.Entry, *logCapture) {
	capture := &logCapture{}
	logger := logrus.New()
	logger.SetOutput(capture)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	logger.AddHook(&mirrorHook{parent: parent})
	return logrus.NewEntry(logger), capture
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Contents returns everything logged so far.
func (c *logCapture) Contents() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// mirrorHook forwards captured entries to the daemon logger so job output
// still shows up in the process log stream.
type mirrorHook struct {
	parent *logrus.Entry
}

func (h *mirrorHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *mirrorHook) Fire(entry *logrus.Entry) error {
	h.parent.WithFields(entry.Data).Log(entry.Level, entry.Message)
	return nil
}
