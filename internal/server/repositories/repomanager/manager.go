// Package repomanager wires repository constructors to a database handle and
// exposes the schema migration hook.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/wirechat/internal/dbx"
	"github.com/dmitrijs2005/wirechat/internal/server/repositories/records"
	"github.com/dmitrijs2005/wirechat/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so services can run
// several repository calls inside one transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Records(db dbx.DBTX) records.Repository
}
