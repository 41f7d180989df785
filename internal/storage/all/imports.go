// Package all wires every built-in run ledger backend into the storage
// factory. Import it for side effects:
//
//	import _ "bdbfilter/internal/storage/all"
//
// after which storage.New accepts the kinds "sqlite", "postgres", "mssql" and "mysql".
package all

import (
	_ "bdbfilter/internal/storage/mssql"
	_ "bdbfilter/internal/storage/mysql"
	_ "bdbfilter/internal/storage/postgres"
	_ "bdbfilter/internal/storage/sqlite"
)
