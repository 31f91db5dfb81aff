// Package dbcon manages named pools of database connections.
//
// Applications refer to databases by synonym, a short name such as
// "reports", and dbcon looks the synonym up in a configuration source, builds
// a bounded pool for it on first use and lends connections from that pool.
// Pools are created lazily, at most once per synonym, and can be destroyed
// and rebuilt at runtime without restarting the process.
//
// # Key Features
//
//   - Lazy, per-synonym pool creation with exactly one pool per synonym
//   - Primary and backup URLs, chosen once when the pool is created
//   - Fail, block and grow policies when every connection is lent out
//   - Validation on borrow, on return and while idle, with a periodic evictor
//   - A per-connection prepared statement cache
//   - A singleton flavour that allows a single unshared connection per synonym
//   - YAML and TOML configuration with environment overrides
//
// # Basic Usage
//
// Describe the synonyms in a configuration file:
//
//	databases:
//	  reports:
//	    driver: pgx
//	    url: postgres://db1.internal/reports
//	    backup_url: postgres://db2.internal/reports
//	    username: app
//	    max_active: 4
//	    exhausted: block
//	    max_wait: 2s
//
// and borrow connections through a Registry:
//
//	src, err := config.NewFileSource(config.FileOptions{Locations: []string{"dbcon.yaml"}})
//	if err != nil {
//		return err
//	}
//	registry := dbcon.NewRegistry(dbcon.WithSource(src))
//	defer registry.Close()
//
//	conn, err := registry.Conn(ctx, "reports")
//	if err != nil {
//		return err
//	}
//	defer registry.DataSource("reports").Return(conn)
//
//	if _, err := conn.ExecContext(ctx, "UPDATE jobs SET done = true WHERE id = $1", id); err != nil {
//		return err
//	}
//	return conn.Commit()
//
// # Transactions
//
// A borrowed Conn always has an open transaction. Nothing it does is durable
// until Commit is called, and returning the connection rolls back whatever
// was not committed. Use DataSource.DB for database/sql's autocommit
// behaviour.
//
// # Exhaustion
//
// When every connection of a pool is lent out, a borrow follows the pool's
// exhausted action: fail returns ErrConnectionNotAvailable at once, block waits
// up to max_wait, and grow opens an extra connection that is closed when it
// is returned. Use IsRetryable to tell these failures from configuration
// errors.
//
// # Drivers
//
// dbcon uses database/sql drivers. Import the driver packages the
// configuration refers to, for example:
//
//	import _ "github.com/jackc/pgx/v5/stdlib" // driver "pgx"
//	import _ "github.com/lib/pq"              // driver "postgres"
package dbcon
