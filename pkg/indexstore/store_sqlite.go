//go:build !cgo

package indexstore

import (
	"database/sql"

	sqlite "modernc.org/sqlite"
)

// Pure-Go builds use modernc SQLite for local files and :memory:, registered
// under the libsql name so DSNs are identical across builds.
const driverName = "libsql"

const remoteSupported = false

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}
