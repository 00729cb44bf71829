package util

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Field names attached by the helpers below. Every log line in the registry
// uses these keys, so operators can filter a device's or a message's whole
// trail across nodes.
const (
	FieldDevice    = "device"
	FieldServer    = "server"
	FieldMessage   = "message"
	FieldOperation = "operation"
)

// Logger is the shared registry logger.
var Logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return l
}

// SetLogLevel sets the logging level from its string name.
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// SetOutput redirects log output. Used by tests and the CLI.
func SetOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// UseJSONFormat switches to JSON log lines for machine consumption.
func UseJSONFormat() {
	Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
}

// WithField returns a logger with one ad-hoc field.
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithDevice returns a logger carrying a device id.
func WithDevice(deviceID string) *logrus.Entry {
	return Logger.WithField(FieldDevice, deviceID)
}

// WithServer returns a logger carrying a gateway server id.
func WithServer(serverID string) *logrus.Entry {
	return Logger.WithField(FieldServer, serverID)
}

// WithMessage returns a logger carrying a message id.
func WithMessage(messageID string) *logrus.Entry {
	return Logger.WithField(FieldMessage, messageID)
}

// WithSend returns a logger for one rendezvous: the target device plus the
// message id, the pair every send-path line is keyed by.
func WithSend(deviceID, messageID string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		FieldDevice:  deviceID,
		FieldMessage: messageID,
	})
}

// WithOperation returns a logger carrying an operation name.
func WithOperation(operation string) *logrus.Entry {
	return Logger.WithField(FieldOperation, operation)
}
