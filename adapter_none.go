package dbal

import "context"

// NoneAdapter is the Database for deployments without one. Reads return
// nothing and writes succeed without effect.
type NoneAdapter struct{}

var _ Database = NoneAdapter{}

func (NoneAdapter) Type() string                      { return "none" }
func (NoneAdapter) Connect(ctx context.Context) error { return nil }
func (NoneAdapter) Disconnect() error                 { return nil }

func (NoneAdapter) Select(ctx context.Context, table string, where Where, opts Options) ([]Row, error) {
	return []Row{}, nil
}

func (NoneAdapter) Insert(ctx context.Context, table string, data Row) (InsertResult, error) {
	return InsertResult{}, nil
}

func (NoneAdapter) Update(ctx context.Context, table string, data Row, where Where) (int64, error) {
	return 0, nil
}

func (NoneAdapter) Delete(ctx context.Context, table string, where Where) (int64, error) {
	return 0, nil
}

func (NoneAdapter) Query(ctx context.Context, query string, params ...any) ([]Row, error) {
	return []Row{}, nil
}

func (NoneAdapter) Execute(ctx context.Context, query string, params ...any) (Result, error) {
	return Result{}, nil
}

func (NoneAdapter) LastID() (any, bool) { return nil, false }

func (NoneAdapter) TableExists(ctx context.Context, table string) (bool, error) {
	return false, nil
}

func (NoneAdapter) Columns(ctx context.Context, table string) ([]Column, error) {
	return []Column{}, nil
}

func (NoneAdapter) Tables(ctx context.Context) ([]string, error) {
	return []string{}, nil
}
