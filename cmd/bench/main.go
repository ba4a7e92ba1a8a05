// Command bench drives repeated Put requests against a basicpaxos
// quorum and reports per-request latency, optionally pushing samples
// into Redis the way the teacher pack's load-test client does
// (efficient-epaxos/src/client/client.go's redisServer.LPush), for an
// external dashboard to pick up.
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/dyv/basicpaxos"
	"github.com/dyv/basicpaxos/examples/kvstore"
	"github.com/go-redis/redis"
)

func main() {
	connect := flag.String("connect", "", "comma-separated host:port list of replicas")
	n := flag.Int("n", 1000, "number of requests to issue")
	retries := flag.Uint("retries", 3, "retry budget per request")
	name := flag.String("name", "bench", "label used as the Redis key prefix")
	redisAddr := flag.String("raddr", "", "Redis address for latency reporting. Disabled by default.")
	redisPort := flag.Int("rport", 6379, "Redis port.")

	flag.Parse()

	var peers []basicpaxos.Endpoint
	for _, s := range strings.Split(*connect, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		ep, err := basicpaxos.ParseEndpoint(s)
		if err != nil {
			log.Fatalf("basicpaxos bench: %v", err)
		}
		peers = append(peers, ep)
	}
	if len(peers) == 0 {
		log.Fatalf("basicpaxos bench: -connect is required")
	}

	var redisServer *redis.Client
	if *redisAddr != "" {
		redisServer = redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", *redisAddr, *redisPort),
		})
		if err := redisServer.Ping().Err(); err != nil {
			log.Fatalf("basicpaxos bench: connecting to redis: %v", err)
		}
		defer redisServer.Close()
	}

	client := basicpaxos.NewClient(basicpaxos.DefaultConfiguration())
	for _, peer := range peers {
		client.Add(peer)
	}
	if err := client.Start(); err != nil {
		log.Fatalf("basicpaxos bench: %v", err)
	}
	defer client.Stop()

	if err := client.WaitUntilQuorumReady(5 * time.Second); err != nil {
		log.Fatalf("basicpaxos bench: quorum not ready: %v", err)
	}

	samples := make([]time.Duration, 0, *n)
	successes := 0
	before := time.Now()

	for i := 0; i < *n; i++ {
		workload, err := kvstore.Op{
			Type:  kvstore.OpPut,
			Key:   "bench-" + strconv.Itoa(i%64),
			Value: strconv.Itoa(i),
		}.Encode()
		if err != nil {
			log.Fatalf("basicpaxos bench: %v", err)
		}

		start := time.Now()
		outcome := <-client.Send(workload, uint16(*retries))
		elapsed := time.Since(start)
		samples = append(samples, elapsed)

		if outcome.Err != nil {
			log.Printf("request %d failed: %v", i, outcome.Err)
			continue
		}
		successes++
	}

	total := time.Since(before)
	fmt.Printf("issued %d requests (%d successful) in %v\n", *n, successes, total)

	if redisServer != nil {
		key := *name + "-write"
		for _, s := range samples {
			if err := redisServer.LPush(key, s.Microseconds()).Err(); err != nil {
				log.Fatalf("basicpaxos bench: pushing latency sample to redis: %v", err)
			}
		}
	}
}
