// Package all wires every built-in storage backend into the storage factory.
//
// It exists purely for side effects: importing it runs each backend's init,
// which registers its Factory with the storage package. After
//
//	import _ "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage/all"
//
// storage.Open accepts postgres://, sqlserver://, mysql:// and SQLite
// destinations. A binary that needs fewer backends can blank-import only
// the ones it wants instead.
package all

import (
	_ "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage/mssql"
	_ "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage/mysql"
	_ "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage/postgres"
	_ "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage/sqlite"
)
