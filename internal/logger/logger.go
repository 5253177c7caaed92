package logger

import (
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"

	"github.com/privacysandbox/pbs-go/internal/config"
)

var (
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
)

// Initialize builds the process-wide zap logger from LoggingConfig. Every
// request-path component still takes a *zap.Logger via constructor
// injection (see internal/service, internal/store, ...); this
// package-level logger only backs the bootstrap path (cmd/pbs) and the
// handful of background goroutines that have no request to be scoped to.
func Initialize(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config

	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	switch strings.ToLower(cfg.Level) {
	case "debug":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn", "warning":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if cfg.OutputPath != "" && cfg.OutputPath != "stdout" {
		zapConfig.OutputPaths = []string{cfg.OutputPath}
		zapConfig.ErrorOutputPaths = []string{cfg.OutputPath}
	}

	built, err := zapConfig.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	Logger = built
	Sugar = built.Sugar()
	return built, nil
}

func Get() *zap.Logger {
	if Logger == nil {
		l, _ := zap.NewProduction()
		Logger = l
		Sugar = l.Sugar()
	}
	return Logger
}

func With(fields ...zap.Field) *zap.Logger {
	return Get().With(fields...)
}

// NewRequestLogger scopes a logger to one inbound transaction, the way
// every request-path component threads request identity through structured
// fields instead of a global mutable logger.
func NewRequestLogger(transactionID string) *zap.Logger {
	return Get().With(zap.String("transaction_id", transactionID))
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// NewGormLogger builds gorm's own logger.Interface around a standard
// *log.Logger so BudgetStore's SQL tracing follows the same
// slow-query-threshold, ignore-not-found configuration as the rest of
// the reporting stack's gorm usage.
func NewGormLogger(zapLogger *zap.Logger) gormlogger.Interface {
	level := gormlogger.Warn
	if ce := zapLogger.Check(zap.DebugLevel, ""); ce != nil {
		level = gormlogger.Info
	}
	return gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)
}
