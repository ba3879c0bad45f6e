package session

import (
	"context"

	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqlserver"
)

// Conn is the database handle a session owns. *sql.DB satisfies it.
type Conn interface {
	query.Querier
	Close() error
}

// Connector opens a connection and describes its schema. It must not return
// an open Conn together with an error.
type Connector func(ctx context.Context, params sqlserver.ConnParams) (Conn, schema.Description, error)

// SQLServerConnector opens a pooled SQL Server handle and introspects it,
// skipping excludedTables.
func SQLServerConnector(pool sqlserver.PoolConfig, excludedTables ...string) Connector {
	return func(ctx context.Context, params sqlserver.ConnParams) (Conn, schema.Description, error) {
		db, err := sqlserver.Open(ctx, params, pool)
		if err != nil {
			return nil, schema.Description{}, err
		}
		desc, err := sqlserver.NewIntrospector(db, excludedTables...).Describe(ctx)
		if err != nil {
			_ = db.Close()
			return nil, schema.Description{}, err
		}
		return db, desc, nil
	}
}
