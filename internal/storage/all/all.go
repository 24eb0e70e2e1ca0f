// Package all registers every warehouse backend. Import it for side effects.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "factload/internal/storage/mssql"
	_ "factload/internal/storage/postgres"
	_ "factload/internal/storage/sqlite"
)
