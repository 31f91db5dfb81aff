// Command concurrent-test runs the concurrency-sensitive tests of dbcon
// repeatedly under the race detector, several processes at a time.
//
//	go run ./scripts/concurrent-test.go [-iterations 5] [-parallel 3]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type scenario struct {
	name     string
	pkg      string
	run      string
	parallel int
}

func main() {
	iterations := flag.Int("iterations", 5, "runs per scenario")
	parallel := flag.Int("parallel", 3, "concurrent go test processes for parallel scenarios")
	flag.Parse()

	scenarios := []scenario{
		{
			name:     "registry under concurrent borrow and destroy",
			pkg:      ".",
			run:      "TestRegistryConcurrency|TestConnReturnDuringDestroy",
			parallel: *parallel,
		},
		{
			name:     "pool first use",
			pkg:      ".",
			run:      "TestRegistryPool",
			parallel: *parallel,
		},
		{
			name:     "connection pool",
			pkg:      "./internal/connpool",
			run:      ".",
			parallel: 1,
		},
		{
			name:     "sql library cache",
			pkg:      "./sqllib",
			run:      "TestCacheConcurrentGet",
			parallel: 1,
		},
	}

	failed := false
	for _, s := range scenarios {
		fmt.Printf("\n--- %s ---\n", s.name)
		if n := runScenario(context.Background(), s, *iterations); n > 0 {
			fmt.Printf("%d of %d runs failed\n", n, *iterations)
			failed = true
		}
		time.Sleep(time.Second)
	}
	if failed {
		os.Exit(1)
	}
}

func runScenario(ctx context.Context, s scenario, iterations int) int32 {
	var failures atomic.Int32
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)

	for i := range iterations {
		g.Go(func() error {
			cmd := exec.CommandContext(ctx, "go", "test", "-race", "-count=1", "-run", s.run, s.pkg)
			cmd.Env = append(os.Environ(), fmt.Sprintf("TEST_ITERATION=%d", i))

			output, err := cmd.CombinedOutput()
			if err != nil {
				failures.Add(1)
				fmt.Printf("FAIL: iteration %d, %s\n%v\n%s\n", i, s.pkg, err, output)
				return nil
			}
			fmt.Printf("PASS: iteration %d, %s\n", i, s.pkg)
			return nil
		})
	}
	_ = g.Wait()
	return failures.Load()
}
