package dbal

import (
	"context"
	"fmt"
	"strings"
)

// Backend type names accepted by New and Open.
const (
	TypeMySQL    = "mysql"
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
	TypeSupabase = "supabase"
	TypeNone     = "none"
)

// New constructs the adapter for typ without connecting. typ is matched
// case-insensitively; an unknown type fails with ErrUnsupportedType before
// any I/O.
func New(typ string, cfg Config, opts ...Option) (Database, error) {
	var db Database
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case TypeMySQL, "mariadb":
		db = NewMySQLAdapter(cfg, opts...)
	case TypePostgres, "postgresql":
		db = NewPostgresAdapter(cfg, opts...)
	case TypeSQLite, "sqlite3":
		db = NewSQLiteAdapter(cfg, opts...)
	case TypeSupabase:
		db = NewSupabaseAdapter(cfg, opts...)
	case TypeNone, "":
		db = NoneAdapter{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
	}

	if m := newSettings(opts).metrics; m != nil {
		db = m.Wrap(db)
	}
	return db, nil
}

// Open constructs the adapter for typ and connects it.
func Open(ctx context.Context, typ string, cfg Config, opts ...Option) (Database, error) {
	db, err := New(typ, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}
	return db, nil
}
