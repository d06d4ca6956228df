// Package sqlite implements the relational adapter over an embedded SQLite
// database. The native engine already understands the where/order/limit
// dialect, so queries pass through near 1:1 with no translation layer.
package sqlite

import _ "modernc.org/sqlite"

// Register is a no-op; importing this package registers the driver.
func Register() {}
