// Command queue-bench measures send and receive throughput of a queue table.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/velmie/sqlqueue"
	"github.com/velmie/sqlqueue/cmd/internal/backend"
)

type mode string

const (
	modeSend    mode = "send"
	modeReceive mode = "receive"
	modeMixed   mode = "mixed"
)

const (
	defaultRecords      = 10000
	defaultPayloadBytes = 512
	defaultProducers    = 4
	defaultConsumers    = 4
	defaultExtraDBConns = 4

	sentAtHeader = "bench-sent-at"
)

var (
	errDSNRequired = errors.New("queue-bench: dsn is required")
	errInvalidMode = errors.New("queue-bench: invalid mode")
	errLostRecords = errors.New("queue-bench: received fewer records than sent")
)

type benchConfig struct {
	mode           mode
	records        int
	payload        []byte
	producers      int
	consumers      int
	priorities     int
	queue          string
	measureLatency bool
}

type result struct {
	Mode             mode          `json:"mode"`
	Driver           string        `json:"driver"`
	Queue            string        `json:"queue"`
	Records          int           `json:"records"`
	Sent             int64         `json:"sent"`
	Received         int64         `json:"received"`
	Duration         time.Duration `json:"duration"`
	Throughput       float64       `json:"throughput_msg_per_sec"`
	Producers        int           `json:"producers"`
	Consumers        int           `json:"consumers"`
	PayloadBytes     int           `json:"payload_bytes"`
	LatencyP50Ms     float64       `json:"latency_p50_ms"`
	LatencyP95Ms     float64       `json:"latency_p95_ms"`
	LatencyP99Ms     float64       `json:"latency_p99_ms"`
	LatencyMaxMs     float64       `json:"latency_max_ms"`
	LatencyMeanMs    float64       `json:"latency_mean_ms"`
	LatencySamples   int64         `json:"latency_samples"`
	DBWaitCount      int64         `json:"db_wait_count"`
	DBWaitDurationMs float64       `json:"db_wait_duration_ms"`
	DBOpenConns      int           `json:"db_open_conns"`
	DBMaxOpen        int           `json:"db_max_open"`
}

func main() {
	var (
		driver       string
		dsn          string
		table        string
		queue        string
		runMode      string
		records      int
		payloadBytes int
		producers    int
		consumers    int
		priorities   int
		latency      bool
		jsonOut      bool
	)

	flag.StringVar(&driver, "driver", backend.DriverPostgres, "Database driver: postgres or mysql")
	flag.StringVar(&dsn, "dsn", "", "Database DSN")
	flag.StringVar(&table, "table", "messages_bench", "Queue table name")
	flag.StringVar(&queue, "queue", "", "Queue name (random when empty)")
	flag.StringVar(&runMode, "mode", string(modeMixed), "Benchmark mode: send, receive, or mixed")
	flag.IntVar(&records, "records", defaultRecords, "Number of messages")
	flag.IntVar(&payloadBytes, "payload-bytes", defaultPayloadBytes, "Body size in bytes")
	flag.IntVar(&producers, "producers", defaultProducers, "Concurrent senders")
	flag.IntVar(&consumers, "consumers", defaultConsumers, "Concurrent receivers")
	flag.IntVar(&priorities, "priorities", 1, "Spread messages over this many priority levels")
	flag.BoolVar(&latency, "measure-latency", true, "Measure send-to-receive latency")
	flag.BoolVar(&jsonOut, "json", false, "Print JSON result")
	flag.Parse()

	if dsn == "" {
		exitErr(errDSNRequired)
	}
	benchMode, err := parseMode(runMode)
	if err != nil {
		exitErr(err)
	}
	if queue == "" {
		queue = "bench_" + uuid.NewString()
	}

	b, err := backend.Open(backend.Config{
		Driver:     driver,
		DSN:        dsn,
		Table:      table,
		InputQueue: queue,
	})
	if err != nil {
		exitErr(err)
	}
	defer b.Close()
	b.DB.SetMaxOpenConns(max(producers, consumers) + defaultExtraDBConns)

	ctx := context.Background()
	if err := b.EnsureSchema(ctx, false); err != nil {
		exitErr(err)
	}

	cfg := benchConfig{
		mode:           benchMode,
		records:        records,
		payload:        buildPayload(payloadBytes),
		producers:      max(1, producers),
		consumers:      max(1, consumers),
		priorities:     max(1, priorities),
		queue:          queue,
		measureLatency: latency,
	}
	res, err := runBench(ctx, b.Transport, cfg)
	if err != nil {
		exitErr(err)
	}
	res.Driver = driver
	stats := dbStatsSnapshot(b.DB)
	res.DBWaitCount = stats.WaitCount
	res.DBWaitDurationMs = msFloat(stats.WaitDuration)
	res.DBOpenConns = stats.OpenConns
	res.DBMaxOpen = stats.MaxOpen

	if jsonOut {
		if err := json.NewEncoder(os.Stdout).Encode(res); err != nil {
			exitErr(err)
		}

		return
	}

	fmt.Printf("RESULT mode=%s driver=%s records=%d duration=%s throughput=%.0f/s "+
		"producers=%d consumers=%d payload=%dB p50=%.2fms p99=%.2fms\n",
		res.Mode, res.Driver, res.Records, res.Duration, res.Throughput,
		res.Producers, res.Consumers, res.PayloadBytes, res.LatencyP50Ms, res.LatencyP99Ms)
}

// runBench sends and/or receives cfg.records messages on transport according to cfg.mode.
func runBench(ctx context.Context, transport sqlqueue.Transport, cfg benchConfig) (result, error) {
	var (
		sent     atomic.Int64
		received atomic.Int64
		latency  latencyStats
	)

	if cfg.mode == modeReceive {
		if err := produce(ctx, transport, cfg, &sent); err != nil {
			return result{}, fmt.Errorf("seed: %w", err)
		}
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	if cfg.mode != modeReceive {
		g.Go(func() error {
			return produce(gctx, transport, cfg, &sent)
		})
	}
	if cfg.mode != modeSend {
		for i := 0; i < cfg.consumers; i++ {
			g.Go(func() error {
				return consume(gctx, transport, cfg, &received, &latency)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}
	elapsed := time.Since(start)

	processed := sent.Load()
	if cfg.mode != modeSend {
		processed = received.Load()
		if processed < int64(cfg.records) {
			return result{}, fmt.Errorf("%w: %d of %d", errLostRecords, processed, cfg.records)
		}
	}

	snapshot := latency.Snapshot()
	res := result{
		Mode:           cfg.mode,
		Queue:          cfg.queue,
		Records:        cfg.records,
		Sent:           sent.Load(),
		Received:       received.Load(),
		Duration:       elapsed,
		Producers:      cfg.producers,
		Consumers:      cfg.consumers,
		PayloadBytes:   len(cfg.payload),
		LatencyP50Ms:   msFloat(snapshot.P50),
		LatencyP95Ms:   msFloat(snapshot.P95),
		LatencyP99Ms:   msFloat(snapshot.P99),
		LatencyMaxMs:   msFloat(snapshot.Max),
		LatencyMeanMs:  msFloat(snapshot.Mean),
		LatencySamples: snapshot.Count,
	}
	if elapsed > 0 {
		res.Throughput = float64(processed) / elapsed.Seconds()
	}

	return res, nil
}

// produce sends cfg.records messages from cfg.producers goroutines, one scope per message.
func produce(ctx context.Context, transport sqlqueue.Transport, cfg benchConfig, sent *atomic.Int64) error {
	var next atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.producers; i++ {
		g.Go(func() error {
			for {
				n := next.Add(1)
				if n > int64(cfg.records) {
					return nil
				}
				env := sqlqueue.Envelope{
					Headers: map[string]string{
						sqlqueue.HeaderPriority: strconv.FormatInt(n%int64(cfg.priorities), 10),
						sentAtHeader:            strconv.FormatInt(time.Now().UnixNano(), 10),
					},
					Body: cfg.payload,
				}
				err := sqlqueue.Run(ctx, func(ctx context.Context, scope *sqlqueue.Scope) error {
					return transport.Send(ctx, cfg.queue, env, scope)
				})
				if err != nil {
					return fmt.Errorf("send: %w", err)
				}
				sent.Add(1)
			}
		})
	}

	return g.Wait()
}

// consume receives until cfg.records messages were received in total. An empty
// queue is polled again while producers may still be sending.
func consume(ctx context.Context, transport sqlqueue.Transport, cfg benchConfig, received *atomic.Int64, latency *latencyStats) error {
	for received.Load() < int64(cfg.records) {
		var env *sqlqueue.Envelope
		err := sqlqueue.Run(ctx, func(ctx context.Context, scope *sqlqueue.Scope) error {
			var err error
			env, err = transport.Receive(ctx, scope)
			return err
		})
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		if env == nil {
			if cfg.mode == modeReceive {
				return nil
			}
			time.Sleep(time.Millisecond)
			continue
		}
		received.Add(1)
		if cfg.measureLatency {
			latency.Record(sinceHeader(env.Headers[sentAtHeader]))
		}
	}

	return nil
}

func sinceHeader(raw string) time.Duration {
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}

	return time.Since(time.Unix(0, nanos))
}

func buildPayload(size int) []byte {
	if size < 0 {
		size = 0
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = 'a'
	}

	return data
}

func parseMode(value string) (mode, error) {
	switch mode(value) {
	case modeSend, modeReceive, modeMixed:
		return mode(value), nil
	default:
		return "", fmt.Errorf("%w: %s", errInvalidMode, value)
	}
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
