package pgdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func Test_isOperationalError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errConnRefused, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"broken pipe", syscall.EPIPE, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"dial timeout", &net.OpError{Op: "dial", Net: "tcp", Err: &timeoutError{}}, true},
		{"pg connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"pg cannot connect now", &pgconn.PgError{Code: "57P03"}, true},
		{"pg syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"pg undefined table", &pgconn.PgError{Code: "42P01"}, false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"plain error", errors.New("boom"), false},
		{"wrapped operational", fmt.Errorf("connect to server: %w", errConnRefused), true},
		{"wrapped statement", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isOperationalError(tt.err))
		})
	}
}

type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
