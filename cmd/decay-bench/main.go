// Command decay-bench measures TimedStore throughput under concurrent
// readers and writers while the sweeper is live.
package main

import (
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-decay/v1/store"
)

var (
	concurrency = flag.Int("c", 50, "Number of concurrent clients")
	requests    = flag.Int("n", 100000, "Total number of requests")
	dataSize    = flag.Int("d", 256, "Data size in bytes")
	ttl         = flag.Duration("ttl", time.Minute, "Entry lifetime")
	writeEvery  = flag.Int("w", 10, "Issue one Set per this many Gets")
)

func main() {
	flag.Parse()

	log.Printf("Starting benchmark: %d requests, %d concurrency, %d bytes payload, ttl %s", *requests, *concurrency, *dataSize, *ttl)

	s, err := store.New[string, []byte](*ttl)
	if err != nil {
		log.Fatalf("Setup failed: %v", err)
	}
	defer s.Close()

	val := make([]byte, *dataSize)
	for i := range val {
		val[i] = 'x'
	}

	const keySpace = 1024
	for i := 0; i < keySpace; i++ {
		s.Set(fmt.Sprintf("bench_key_%d", i), val)
	}

	var wg sync.WaitGroup
	var ops int64
	var missCount int64

	start := time.Now()

	reqsPerWorker := *requests / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < reqsPerWorker; j++ {
				key := fmt.Sprintf("bench_key_%d", (worker+j)%keySpace)
				if *writeEvery > 0 && j%*writeEvery == 0 {
					s.Set(key, val)
				}
				if _, ok := s.Get(key); !ok {
					atomic.AddInt64(&missCount, 1)
				}
				atomic.AddInt64(&ops, 1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	throughput := float64(ops) / elapsed.Seconds()
	avgLatency := elapsed.Seconds() / float64(ops) * 1e9 // ns

	m := s.Metrics()
	log.Printf("Finished in %v", elapsed)
	log.Printf("Throughput: %.2f req/s", throughput)
	log.Printf("Avg Latency: %.2f ns", avgLatency)
	log.Printf("Hits: %d Misses: %d Expired: %d", m.Hits, m.Misses, m.Expired)
	if missCount > 0 {
		log.Printf("Read misses: %d", missCount)
	}
}
