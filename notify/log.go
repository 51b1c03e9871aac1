package notify

import (
	"go.uber.org/zap"

	"github.com/warp/tutor-ledger/ledger"
)

// Log writes one structured log entry per notification.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("notify")}
}

func (l *Log) Notify(n ledger.Notification) {
	fields := []zap.Field{
		zap.String("severity", string(n.Severity)),
		zap.Duration("duration", n.Duration),
	}
	switch n.Severity {
	case ledger.SeverityError:
		l.logger.Error(n.Message, fields...)
	case ledger.SeverityWarning:
		l.logger.Warn(n.Message, fields...)
	default:
		l.logger.Info(n.Message, fields...)
	}
}
