package main

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	// Connection
	Hosts   string        // Admin addresses of seed nodes, any node of the cluster
	Secret  string        // Admin secret used for topology discovery
	Timeout time.Duration // Per command

	// Keyspace
	KeyPrefix string
	Records   int
	ValueSize int

	// Run options
	Workload   string
	Operations int
	Duration   time.Duration
	Threads    int

	// Workload percentages (-1 means use workload default)
	ReadPct   int
	WritePct  int
	DeletePct int

	// Retry on fenced writes after refreshing the topology
	Retry      bool
	MaxRetries int

	// Verify options
	Verify        bool
	VerifyDelay   time.Duration
	VerifySamples int

	hostList []string
}

func (c *Config) Validate() error {
	if c.Hosts == "" {
		return fmt.Errorf("hosts cannot be empty")
	}

	c.hostList = strings.Split(c.Hosts, ",")
	for i, h := range c.hostList {
		c.hostList[i] = strings.TrimSpace(h)
		if c.hostList[i] == "" {
			return fmt.Errorf("empty host in list")
		}
	}

	if c.KeyPrefix == "" || strings.ContainsAny(c.KeyPrefix, " \r\n") {
		return fmt.Errorf("key prefix must be non-empty and contain no whitespace")
	}
	if c.Records < 0 {
		return fmt.Errorf("records must be non-negative")
	}
	if c.ValueSize < 1 {
		return fmt.Errorf("value-size must be at least 1")
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}
	if c.Operations < 0 {
		return fmt.Errorf("operations must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must be non-negative")
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}

	switch c.Workload {
	case "mixed", "write-only", "read-only", "read-heavy":
	case "":
		c.Workload = "mixed"
	default:
		return fmt.Errorf("invalid workload: %s (must be mixed|write-only|read-only|read-heavy)", c.Workload)
	}

	return nil
}

func (c *Config) HostList() []string {
	return c.hostList
}

func (c *Config) GetWorkloadDistribution() WorkloadDistribution {
	var dist WorkloadDistribution

	switch c.Workload {
	case "mixed":
		dist = WorkloadDistribution{Read: 50, Write: 45, Delete: 5}
	case "write-only":
		dist = WorkloadDistribution{Read: 0, Write: 90, Delete: 10}
	case "read-only":
		dist = WorkloadDistribution{Read: 100}
	case "read-heavy":
		dist = WorkloadDistribution{Read: 90, Write: 9, Delete: 1}
	}

	if c.ReadPct >= 0 {
		dist.Read = c.ReadPct
	}
	if c.WritePct >= 0 {
		dist.Write = c.WritePct
	}
	if c.DeletePct >= 0 {
		dist.Delete = c.DeletePct
	}

	return dist
}

type WorkloadDistribution struct {
	Read   int
	Write  int
	Delete int
}

func (w WorkloadDistribution) Total() int {
	return w.Read + w.Write + w.Delete
}

func (w WorkloadDistribution) Validate() error {
	total := w.Total()
	if total != 100 {
		return fmt.Errorf("workload percentages must sum to 100, got %d", total)
	}
	return nil
}
