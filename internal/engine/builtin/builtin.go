// Package builtin assembles a registry holding every engine shipped with dbrep.
package builtin

import (
	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/engine/mssql"
	"github.com/johndauphine/dbrep/internal/engine/postgres"
	"github.com/johndauphine/dbrep/internal/engine/sqlite"
)

// NewRegistry returns a registry with the postgres, mssql and sqlite engines.
func NewRegistry() *engine.Registry {
	return engine.NewRegistry(
		postgres.Factory{},
		mssql.Factory{},
		sqlite.Factory{},
	)
}
