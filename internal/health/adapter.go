package health

import (
	"context"

	"github.com/javi11/usenetstream/internal/nntp"
)

// poolAdapter narrows a live *nntp.Pool down to ConnPool.
type poolAdapter struct {
	pool *nntp.Pool
}

// NewConnPool adapts a real connection pool for use with CheckSegments.
func NewConnPool(pool *nntp.Pool) ConnPool {
	return poolAdapter{pool: pool}
}

func (a poolAdapter) Providers() []nntp.ProviderConfig { return a.pool.Providers() }

func (a poolAdapter) Borrow(ctx context.Context, providerIdx int) (Conn, error) {
	return a.pool.Borrow(ctx, providerIdx)
}

func (a poolAdapter) Release(conn Conn) {
	c, ok := conn.(*nntp.Conn)
	if !ok {
		return
	}
	a.pool.Release(c)
}
