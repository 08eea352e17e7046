// Package main provides a demonstration and micro-benchmark driver for
// the TLSF allocator.
package main

import (
	"flag"
	"fmt"
	"math/rand"

	"github.com/orizon-lang/tlsf/internal/allocator"
	"github.com/orizon-lang/tlsf/internal/cli"
	tlsfconfig "github.com/orizon-lang/tlsf/internal/config"
	"github.com/orizon-lang/tlsf/internal/diagnostics"
	"github.com/orizon-lang/tlsf/internal/diagserver"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		verbose     = flag.Bool("verbose", false, "log progress and workload events")
		debug       = flag.Bool("debug", false, "log per-operation workload failures")
		flCount     = flag.Int("fl-count", 8, "number of first-level size classes")
		slCount     = flag.Int("sl-count", 4, "number of second-level subclasses per first-level class")
		minBlock    = flag.Uint("min-block", 32, "minimum block size in bytes")
		poolSize    = flag.Uint("pool-size", 32*1024, "bytes requested per pool")
		maxPools    = flag.Int("max-pools", 10, "maximum number of pools the allocator may acquire")
		iterations  = flag.Int("iterations", 10000, "number of allocate/free operations to simulate")
		maxRequest  = flag.Uint("max-request", 2048, "largest payload size, in bytes, the workload will request")
		seed        = flag.Int64("seed", 1, "random seed for the workload")
		configFile  = flag.String("config", "", "JSON sizing file to load instead of the -fl-count/-sl-count/... flags (later changes to it are logged, not applied)")
		diagAddr    = flag.String("diag-addr", "", "if set, serve a read-only HTTP/3 diagnostics snapshot on this address (e.g. :4433)")
	)

	flag.Parse()

	if *showVersion {
		cli.PrintVersion("tlsf-demo", *jsonOutput)
		return
	}

	logger := cli.NewLogger(*verbose, *debug)

	cfg := allocator.Config{
		FLCount:   *flCount,
		SLCount:   *slCount,
		MinBlock:  uint32(*minBlock),
		PoolSize:  uint32(*poolSize),
		MaxPools:  *maxPools,
		Alignment: 8,
	}

	if *configFile != "" {
		loaded, err := tlsfconfig.Load(*configFile)
		if err != nil {
			cli.ExitWithError("loading %s: %v", *configFile, err)
		}

		cfg = loaded
	}

	a, err := allocator.New(allocator.NewHeapProvider(),
		allocator.WithClasses(cfg.FLCount, cfg.SLCount),
		allocator.WithMinBlock(cfg.MinBlock),
		allocator.WithPoolSize(cfg.PoolSize),
		allocator.WithMaxPools(cfg.MaxPools),
		allocator.WithAlignment(cfg.Alignment),
	)
	cli.HandleError(err, logger)

	concurrent := allocator.NewConcurrent(a)

	if *configFile != "" {
		watcher, err := tlsfconfig.NewWatcher(*configFile)
		if err != nil {
			logger.Warn("config hot-reload disabled: %v", err)
		} else {
			defer watcher.Close()

			logger.Info("watching %s for sizing changes (reload requires a fresh allocator; logged only in this demo)", *configFile)
			go logConfigReloads(watcher, logger)
		}
	}

	if *diagAddr != "" {
		srv := diagserver.New(*diagAddr, nil, diagserver.Options{}, func(includeBlocks bool) diagnostics.Snapshot {
			var snap diagnostics.Snapshot

			concurrent.Do(func(a *allocator.Allocator) {
				snap = diagnostics.Capture(a, includeBlocks)
			})

			return snap
		})

		addr, err := srv.Start()
		if err != nil {
			logger.Warn("diagnostics server disabled: %v", err)
		} else {
			logger.Info("diagnostics server listening on %s (GET /snapshot)", addr)
			defer srv.Stop()
		}
	}

	runWorkload(concurrent, logger, *iterations, uint32(*maxRequest), *seed)

	var snap diagnostics.Snapshot

	concurrent.Do(func(a *allocator.Allocator) {
		snap = diagnostics.Capture(a, false)
	})

	fmt.Printf("format version: %s\n", snap.FormatVersion)
	fmt.Printf("allocations: %d, frees: %d, active: %d\n", snap.Stats.AllocCount, snap.Stats.FreeCount, snap.Stats.ActiveAllocations)
	fmt.Printf("pools: %d, bytes in use: %d, free bytes: %d, largest free block: %d\n",
		snap.Stats.PoolCount, snap.Stats.BytesInUse, snap.Stats.FreeBytes, snap.Stats.LargestFreeBlock)
	fmt.Printf("fragmentation ratio: %.4f\n", snap.Stats.FragmentationRatio)

	concurrent.Do(func(a *allocator.Allocator) { a.Audit() })
	fmt.Println("invariant audit: ok")
}

// runWorkload simulates a long-lived process making randomly sized
// allocations and freeing them in arbitrary order, the access pattern
// TLSF's segregated free lists are built to handle without the
// fragmentation a simple bump allocator would accumulate.
func runWorkload(a *allocator.Concurrent, logger *cli.Logger, iterations int, maxRequest uint32, seed int64) {
	rng := rand.New(rand.NewSource(seed))

	var live []allocator.Ptr

	for i := 0; i < iterations; i++ {
		if len(live) > 0 && (rng.Intn(3) == 0 || len(live) > 512) {
			idx := rng.Intn(len(live))
			p := live[idx]
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]

			if err := a.Deallocate(p); err != nil {
				logger.Error("deallocate failed at iteration %d: %v", i, err)
			}

			continue
		}

		n := uint32(rng.Intn(int(maxRequest))) + 1

		p, err := a.Allocate(n)
		if err != nil {
			logger.Debug("allocate(%d) failed at iteration %d: %v", n, i, err)
			continue
		}

		live = append(live, p)
	}

	for _, p := range live {
		if err := a.Deallocate(p); err != nil {
			logger.Error("final deallocate failed: %v", err)
		}
	}
}

func logConfigReloads(w *tlsfconfig.Watcher, logger *cli.Logger) {
	for {
		select {
		case cfg, ok := <-w.Updates():
			if !ok {
				return
			}

			logger.Info("sizing file changed: fl=%d sl=%d min_block=%d pool_size=%d max_pools=%d",
				cfg.FLCount, cfg.SLCount, cfg.MinBlock, cfg.PoolSize, cfg.MaxPools)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}

			logger.Warn("config watch error: %v", err)
		}
	}
}
