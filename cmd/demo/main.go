// Command demo wires a handful of basicpaxos replicas (or a single
// client) together over real TCP sockets, adapted from the teacher's
// demo/start_paxos launcher to this module's Server/Client API and
// the kvstore example application.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyv/basicpaxos"
	"github.com/dyv/basicpaxos/examples/kvstore"
)

func main() {
	mode := flag.String("mode", "replica", "replica or client")
	listen := flag.String("listen", "127.0.0.1:9001", "this replica's host:port (replica mode)")
	peers := flag.String("peers", "", "comma-separated host:port list of the other quorum members")
	dataDir := flag.String("data", "", "directory for the write-ahead log and key/value store (replica mode); empty keeps the Paxos state in memory and puts the key/value store under the system temp directory")
	monitorAddr := flag.String("monitor", "", "optional host:port for the read-only websocket status feed (replica mode)")
	verbose := flag.Bool("v", false, "verbose logging")

	connect := flag.String("connect", "", "comma-separated host:port list of replicas to contact (client mode)")
	op := flag.String("op", "put", "put or get (client mode)")
	key := flag.String("key", "", "key (client mode)")
	value := flag.String("value", "", "value, for -op=put (client mode)")
	retries := flag.Uint("retries", 3, "retry budget for the request (client mode)")

	flag.Parse()
	basicpaxos.SetVerbose(*verbose)

	switch *mode {
	case "replica":
		runReplica(*listen, *peers, *dataDir, *monitorAddr)
	case "client":
		runClient(*connect, *op, *key, *value, uint16(*retries))
	default:
		log.Fatalf("basicpaxos demo: unknown -mode %q", *mode)
	}
}

func parseEndpoints(csv string) []basicpaxos.Endpoint {
	var out []basicpaxos.Endpoint
	for _, s := range strings.Split(csv, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		ep, err := basicpaxos.ParseEndpoint(s)
		if err != nil {
			log.Fatalf("basicpaxos demo: %v", err)
		}
		out = append(out, ep)
	}
	return out
}

func runReplica(listen, peersCSV, dataDir, monitorAddr string) {
	self, err := basicpaxos.ParseEndpoint(listen)
	if err != nil {
		log.Fatalf("basicpaxos demo: %v", err)
	}

	var store *kvstore.Store
	var ctx *basicpaxos.PaxosContext
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o777); err != nil {
			log.Fatalf("basicpaxos demo: %v", err)
		}
		store, err = kvstore.Open(filepath.Join(dataDir, "kv"))
		if err != nil {
			log.Fatalf("basicpaxos demo: %v", err)
		}
		ctx, err = basicpaxos.NewDurableContext(self, filepath.Join(dataDir, "wal.log"))
		if err != nil {
			log.Fatalf("basicpaxos demo: %v", err)
		}
	} else {
		store, err = kvstore.Open(filepath.Join(os.TempDir(), "basicpaxos-demo-"+listen))
		if err != nil {
			log.Fatalf("basicpaxos demo: %v", err)
		}
	}
	defer store.Close()

	server := basicpaxos.NewServer(self.Host, self.Port, store.Apply, basicpaxos.DefaultConfiguration(), ctx)
	server.Add(self)
	for _, peer := range parseEndpoints(peersCSV) {
		server.Add(peer)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("basicpaxos demo: %v", err)
	}
	defer server.Stop()

	if monitorAddr != "" {
		if err := server.Monitor(monitorAddr); err != nil {
			log.Fatalf("basicpaxos demo: %v", err)
		}
	}

	fmt.Printf("replica %s listening, peers=%s\n", self, peersCSV)
	select {}
}

func runClient(connectCSV, op, key, value string, retries uint16) {
	peers := parseEndpoints(connectCSV)
	if len(peers) == 0 {
		log.Fatalf("basicpaxos demo: client mode requires -connect")
	}

	client := basicpaxos.NewClient(basicpaxos.DefaultConfiguration())
	for _, peer := range peers {
		client.Add(peer)
	}
	if err := client.Start(); err != nil {
		log.Fatalf("basicpaxos demo: %v", err)
	}
	defer client.Stop()

	if err := client.WaitUntilQuorumReady(5 * time.Second); err != nil {
		log.Fatalf("basicpaxos demo: quorum not ready: %v", err)
	}

	var opType kvstore.OpType
	switch op {
	case "put":
		opType = kvstore.OpPut
	case "get":
		opType = kvstore.OpGet
	default:
		log.Fatalf("basicpaxos demo: -op must be put or get")
	}

	workload, err := kvstore.Op{Type: opType, Key: key, Value: value}.Encode()
	if err != nil {
		log.Fatalf("basicpaxos demo: %v", err)
	}

	outcome := <-client.Send(workload, retries)
	if outcome.Err != nil {
		log.Fatalf("basicpaxos demo: request failed: %v", outcome.Err)
	}

	var result kvstore.Result
	if err := json.Unmarshal(outcome.Response, &result); err != nil {
		log.Fatalf("basicpaxos demo: malformed response: %v", err)
	}
	fmt.Printf("ok found=%v value=%q\n", result.Found, result.Value)
}
