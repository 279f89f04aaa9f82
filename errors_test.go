package dbal

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatching(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")

	var err error = fmt.Errorf("open: %w", &ConnectionError{Backend: "mysql", Target: "db:3306", Cause: cause})
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "db:3306")

	err = &PolicyError{Table: "tbl_times", Operation: "update", Message: "permission denied"}
	assert.ErrorIs(t, err, ErrRowLevelSecurity)
	assert.NotErrorIs(t, err, ErrConnectionFailed)

	err = &MissingProcedureError{Procedure: "exec_sql", Cause: cause}
	assert.ErrorIs(t, err, ErrMissingProcedure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "exec_sql")
}

func TestStatementError_Message(t *testing.T) {
	err := &StatementError{Backend: "supabase", Operation: "select", Status: 400, Message: "bad column", Hint: "try nome"}
	assert.Equal(t, "[supabase] select: HTTP 400: bad column (hint: try nome)", err.Error())

	cause := errors.New("no such table: x")
	err = &StatementError{Backend: "sqlite", Operation: "query", Cause: cause}
	assert.Equal(t, "[sqlite] query: no such table: x", err.Error())
	assert.ErrorIs(t, err, cause)
}
