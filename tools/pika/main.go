// Command pika generates load against a ringkv cluster and checks that
// replicas converge.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "load":
		runLoad(args)
	case "run":
		runBenchmark(args)
	case "verify":
		runVerify(args)
	case "version":
		fmt.Printf("pika version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pika - ringkv benchmark tool

Usage:
  pika <command> [options]

Commands:
  load      Write the initial keyspace
  run       Run a GET/PUT/DELETE workload
  verify    Compare leader and replica copies of sampled keys
  version   Print version
  help      Show this help

Common Options:
  --hosts         Comma-separated admin addresses of seed nodes; topology is read from /admin (default: 127.0.0.1:9002)
  --secret        Admin secret
  --prefix        Key prefix (default: bench)
  --records       Size of the keyspace (default: 10000)
  --timeout       Per command timeout (default: 2s)

Load Options:
  --threads       Number of concurrent threads (default: 10)
  --value-size    Value length in bytes (default: 100)

Run Options:
  --workload      mixed|write-only|read-only|read-heavy (default: mixed)
  --operations    Total operations to execute (default: 50000)
  --duration      Duration to run (e.g., 60s), overrides --operations
  --threads       Number of concurrent threads (default: 20)
  --read-pct      GET percentage (overrides workload default)
  --write-pct     PUT percentage (overrides workload default)
  --delete-pct    DELETE percentage (overrides workload default)
  --retry         Refresh topology and retry fenced writes (default: true)
  --max-retries   Maximum retry attempts (default: 3)
  --verify        Run verification after the workload (default: false)
  --verify-delay  Delay before verification for replication (default: 2s)

Verify Options:
  --samples       Number of keys to compare (default: 100)

Examples:
  pika load --hosts=127.0.0.1:9002,127.0.0.1:9102 --records=10000
  pika run --hosts=127.0.0.1:9001 --workload=mixed --duration=30s --verify
  pika verify --hosts=127.0.0.1:9001 --samples=500`)
}

func commonFlags(name string, cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&cfg.Hosts, "hosts", "127.0.0.1:9002", "Comma-separated admin addresses of seed nodes")
	fs.StringVar(&cfg.Secret, "secret", "", "Admin secret")
	fs.StringVar(&cfg.KeyPrefix, "prefix", "bench", "Key prefix")
	fs.IntVar(&cfg.Records, "records", 10000, "Size of the keyspace")
	fs.DurationVar(&cfg.Timeout, "timeout", 2*time.Second, "Per command timeout")
	return fs
}

func parseOrExit(fs *flag.FlagSet, args []string, cfg *Config) {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
}

// interruptible cancels the returned context on SIGINT or SIGTERM
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runLoad(args []string) {
	cfg := &Config{}
	fs := commonFlags("load", cfg)
	fs.IntVar(&cfg.Threads, "threads", 10, "Number of concurrent threads")
	fs.IntVar(&cfg.ValueSize, "value-size", 100, "Value length in bytes")
	parseOrExit(fs, args, cfg)

	ctx, cancel := interruptible()
	defer cancel()

	if err := executeLoad(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Load failed: %v\n", err)
		os.Exit(1)
	}
}

func runBenchmark(args []string) {
	cfg := &Config{}
	fs := commonFlags("run", cfg)
	fs.StringVar(&cfg.Workload, "workload", "mixed", "Workload type")
	fs.IntVar(&cfg.Operations, "operations", 50000, "Total operations to execute")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Duration to run (overrides --operations)")
	fs.IntVar(&cfg.Threads, "threads", 20, "Number of concurrent threads")
	fs.IntVar(&cfg.ValueSize, "value-size", 100, "Value length in bytes")
	fs.IntVar(&cfg.ReadPct, "read-pct", -1, "GET percentage (overrides workload)")
	fs.IntVar(&cfg.WritePct, "write-pct", -1, "PUT percentage (overrides workload)")
	fs.IntVar(&cfg.DeletePct, "delete-pct", -1, "DELETE percentage (overrides workload)")
	fs.BoolVar(&cfg.Retry, "retry", true, "Refresh topology and retry fenced writes")
	fs.IntVar(&cfg.MaxRetries, "max-retries", 3, "Maximum retry attempts")
	fs.BoolVar(&cfg.Verify, "verify", false, "Run verification after the workload")
	fs.DurationVar(&cfg.VerifyDelay, "verify-delay", 2*time.Second, "Delay before verification to allow replication")
	fs.IntVar(&cfg.VerifySamples, "verify-samples", 100, "Number of keys to verify")
	parseOrExit(fs, args, cfg)

	ctx, cancel := interruptible()
	defer cancel()

	if err := executeRun(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Benchmark failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.Verify {
		fmt.Printf("\nWaiting %s for replication to settle...\n", cfg.VerifyDelay)
		time.Sleep(cfg.VerifyDelay)

		if err := executeVerify(context.Background(), cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Verification failed: %v\n", err)
			os.Exit(1)
		}
	}
}

func runVerify(args []string) {
	cfg := &Config{Threads: 1, ValueSize: 1}
	fs := commonFlags("verify", cfg)
	fs.IntVar(&cfg.VerifySamples, "samples", 100, "Number of keys to verify")
	parseOrExit(fs, args, cfg)

	ctx, cancel := interruptible()
	defer cancel()

	if err := executeVerify(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Verify failed: %v\n", err)
		os.Exit(1)
	}
}
