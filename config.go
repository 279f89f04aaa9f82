package dbal

import "go.uber.org/zap"

// Config carries connection parameters for every backend. Each adapter reads
// only the fields it needs.
type Config struct {
	// Relational backends. For SQLite, Database is the file path or ":memory:".
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`

	// REST backend.
	URL string `mapstructure:"url"`
	Key string `mapstructure:"key"`

	// CompositeKeyTables lists REST tables with no single "id" column. An
	// insert into one of them succeeds without a generated id.
	CompositeKeyTables []string `mapstructure:"composite_key_tables"`
}

// Logger is the structured logger the adapters write to.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

type settings struct {
	logger  Logger
	metrics *Metrics
}

// Option configures an adapter built by New or Open.
type Option func(*settings)

// WithLogger sets the logger used by the adapter.
func WithLogger(l Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records every operation of the returned Database in m.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

func newSettings(opts []Option) *settings {
	s := &settings{logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
