package dbcon_test

import (
	"context"
	"fmt"
	"time"

	"github.com/yuku/dbcon"
	"github.com/yuku/dbcon/config"
)

func ExampleSingletonConfig() {
	cfg := config.Defaults()
	cfg.Name = "reports"
	cfg.MaxActive = 20

	single := dbcon.SingletonConfig(cfg)
	fmt.Println(single.MaxActive, single.Exhausted, single.EvictionInterval)
	fmt.Println(cfg.MaxActive, cfg.Exhausted)
	// Output:
	// 1 fail 10m0s
	// 20 fail
}

func ExampleRegistry_PoolStatus() {
	cfg := config.Defaults()
	cfg.Name = "reports"
	cfg.Driver = "pgx"
	cfg.URL = "postgres://db1.internal/reports"

	r := dbcon.NewRegistry(dbcon.WithSource(config.NewStaticSource(cfg)))
	defer r.Close()

	fmt.Println(r.IsSynonymKnown("reports"))
	fmt.Println(r.PoolStatus("reports"))
	fmt.Println(r.ActiveConnections("reports"))
	// Output:
	// true
	// The pool reports has not been initialised
	// -1
}

func ExampleRegistry_Conn() {
	src, err := config.NewFileSource(config.FileOptions{Locations: []string{"dbcon.yaml"}})
	if err != nil {
		fmt.Println(err)
		return
	}
	r := dbcon.NewRegistry(dbcon.WithSource(src))
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := r.Conn(ctx, "reports")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer r.DataSource("reports").Return(conn)

	if _, err := conn.ExecContext(ctx, "UPDATE jobs SET done = true WHERE id = $1", 42); err != nil {
		fmt.Println(err)
		return
	}
	if err := conn.Commit(); err != nil {
		fmt.Println(err)
	}
}
