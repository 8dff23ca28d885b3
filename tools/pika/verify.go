package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/maxpert/ringkv/protocol"
)

// KeyMismatch lists what each copy of a key returned
type KeyMismatch struct {
	Key       string
	HostValue map[string]string // host -> value, NULL or the error
}

// VerifyResult holds verification results
type VerifyResult struct {
	SampledKeys    int
	MatchedKeys    int
	MismatchedKeys int
	Mismatches     []KeyMismatch // First maxReportedMismatches
}

const maxReportedMismatches = 10

// Verifier compares the leader and replica copies of sampled keys
type Verifier struct {
	pool     *Pool
	topology *Topology
	keyGen   *KeyGenerator
	records  int
	samples  int
}

func NewVerifier(pool *Pool, topology *Topology, keyGen *KeyGenerator, records, samples int) *Verifier {
	return &Verifier{
		pool:     pool,
		topology: topology,
		keyGen:   keyGen,
		records:  records,
		samples:  samples,
	}
}

// Verify reads each sampled key from every copy of its block
func (v *Verifier) Verify(ctx context.Context) (*VerifyResult, error) {
	result := &VerifyResult{}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	samples := v.samples
	if samples > v.records {
		samples = v.records
	}

	for _, i := range rng.Perm(v.records)[:samples] {
		key := v.keyGen.Key(i)
		copies := v.topology.CopiesOf(key)
		if len(copies) == 0 {
			return nil, fmt.Errorf("no leader owns %s", key)
		}

		values := make(map[string]string, len(copies))
		for _, host := range copies {
			reply, err := v.pool.Do(ctx, host, protocol.GetCommand(key))
			if err != nil {
				reply = "error: " + err.Error()
			}
			values[host] = reply
		}

		result.SampledKeys++
		if allEqual(values) {
			result.MatchedKeys++
			continue
		}
		result.MismatchedKeys++
		if len(result.Mismatches) < maxReportedMismatches {
			result.Mismatches = append(result.Mismatches, KeyMismatch{Key: key, HostValue: values})
		}
	}
	return result, nil
}

func allEqual(values map[string]string) bool {
	first, seen := "", false
	for _, v := range values {
		if !seen {
			first, seen = v, true
			continue
		}
		if v != first {
			return false
		}
	}
	return true
}

func executeVerify(ctx context.Context, cfg *Config) error {
	router, err := NewRouter(ctx, cfg)
	if err != nil {
		return err
	}
	pool := NewPool(cfg.Timeout, 1)
	defer pool.Close()

	keyGen := NewKeyGenerator(cfg.KeyPrefix, cfg.Records)
	result, err := NewVerifier(pool, router.Topology(), keyGen, cfg.Records, cfg.VerifySamples).Verify(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Sampled %d keys: %d consistent, %d divergent\n", result.SampledKeys, result.MatchedKeys, result.MismatchedKeys)
	for _, m := range result.Mismatches {
		fmt.Printf("  %s\n", m.Key)
		for host, value := range m.HostValue {
			fmt.Printf("    %-24s %s\n", host, truncate(value, 40))
		}
	}

	if result.MismatchedKeys > 0 {
		return fmt.Errorf("%d of %d sampled keys diverge between leader and replicas", result.MismatchedKeys, result.SampledKeys)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
