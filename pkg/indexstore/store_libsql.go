//go:build cgo

package indexstore

import (
	_ "github.com/tursodatabase/go-libsql"
)

// cgo builds use go-libsql, which also reaches remote Turso databases.
const driverName = "libsql"

const remoteSupported = true
