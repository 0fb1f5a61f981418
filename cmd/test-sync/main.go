// ABOUTME: Test app to verify clock sync against a server
// ABOUTME: Runs sync rounds and prints offset, spread and outcome of each
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loopsync/loopsync-go/internal/client"
	"github.com/loopsync/loopsync-go/internal/config"
	"github.com/loopsync/loopsync-go/internal/discovery"
	internalsync "github.com/loopsync/loopsync-go/internal/sync"
)

var (
	serverURL = flag.String("server", "", "Server url (default: discover via mDNS)")
	password  = flag.String("password", "", "Server password")
	transport = flag.String("transport", config.TransportHTTP, "Transport: http or ws")
	samples   = flag.Int("samples", internalsync.DefaultSampleCount, "Probes per sync run")
	rounds    = flag.Int("rounds", 5, "Number of sync runs")
	interval  = flag.Duration("interval", time.Second, "Pause between runs")
	filter    = flag.String("filter", "stddev", "Outlier filter: stddev or variance")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mode, err := internalsync.ParseFilterMode(*filter)
	if err != nil {
		log.Fatalf("Invalid filter: %v", err)
	}

	base := *serverURL
	if base == "" {
		fmt.Println("Browsing for a loopsync server...")
		info, err := discovery.FindServer(ctx)
		if err != nil {
			log.Fatalf("Discovery failed: %v", err)
		}
		base = info.URL()
	}

	ref, closeRef, err := newReference(base)
	if err != nil {
		log.Fatalf("Time reference: %v", err)
	}
	defer closeRef()

	fmt.Println("=== Clock Sync Test App ===")
	fmt.Printf("Server: %s (%s), %d probes per run, %s filter\n\n", base, *transport, *samples, mode)

	cs := internalsync.NewClockSync(internalsync.NewMonotonicClock(), ref, internalsync.Config{
		SampleCount: *samples,
		Filter:      mode,
	})

	for i := 1; i <= *rounds; i++ {
		r := cs.RunSync(ctx)
		fmt.Printf("run %d: %-12s offset=%+dms kept=%d/%d accepted=%d mean=%.2f var=%.2f rtt=%.2fms (%s)\n",
			i, r.Outcome, r.Offset, r.Kept, r.Probes, r.Accepted, r.Mean, r.Variance, r.MeanRTT,
			r.Duration.Round(time.Millisecond))

		if i == *rounds {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*interval):
		}
	}

	offset, rtt, quality, failures := cs.Stats()
	fmt.Printf("\nFinal offset %+dms, rtt %.2fms, quality %s, %d consecutive failures\n", offset, rtt, quality, failures)
	fmt.Printf("Server time now: %d\n", cs.ServerTime())
}

// newReference builds the selected transport and its cleanup
func newReference(base string) (internalsync.TimeReference, func(), error) {
	switch *transport {
	case config.TransportWebSocket:
		ws, err := client.NewWSTimeReference(client.WSConfig{ServerURL: base, Password: *password, Name: "test-sync"})
		if err != nil {
			return nil, nil, err
		}
		return ws, func() { ws.Close() }, nil
	case config.TransportHTTP:
		ref, err := client.NewHTTPTimeReference(client.HTTPConfig{BaseURL: base, Password: *password})
		if err != nil {
			return nil, nil, err
		}
		return ref, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", *transport)
	}
}
