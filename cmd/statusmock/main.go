// statusmock serves game statuses from a YAML fixture file so registryd
// can be exercised end-to-end without the real authority.
//
// Usage:
//
//	go run ./cmd/statusmock -fixtures testdata/games.yaml -port 5000
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/charleschow/game-registry/internal/statusmock"
	"github.com/charleschow/game-registry/internal/telemetry"
)

func main() {
	path := flag.String("fixtures", "testdata/games.yaml", "YAML file with games, tokens and states")
	port := flag.Int("port", 5000, "listen port")
	delayMs := flag.Int("delay-ms", 0, "artificial latency per request")
	level := flag.String("log", "info", "log level")
	flag.Parse()

	telemetry.Init(telemetry.ParseLogLevel(*level))

	fixtures, err := statusmock.LoadFixtures(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	statusmock.NewServer(fixtures, time.Duration(*delayMs)*time.Millisecond).RegisterRoutes(mux)

	addr := fmt.Sprintf(":%d", *port)
	telemetry.Infof("statusmock: serving %d games on %s", len(fixtures.Games), addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		telemetry.Errorf("statusmock: %v", err)
		os.Exit(1)
	}
}
