// ABOUTME: Connection pool statistics for the local SQLite database
// ABOUTME: Exported as the standard go_sql_* families labeled by db_name

package metrics

import (
	"database/sql"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// RegisterDBStats exports db's pool statistics on the default registry.
// Registering the same name twice is not an error.
func RegisterDBStats(db *sql.DB, name string) error {
	return registerDBStats(prometheus.DefaultRegisterer, db, name)
}

func registerDBStats(reg prometheus.Registerer, db *sql.DB, name string) error {
	err := reg.Register(collectors.NewDBStatsCollector(db, name))
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}
