package main

import (
	"fmt"
	"math/rand"
)

type OpType int

const (
	OpRead OpType = iota
	OpWrite
	OpDelete
)

func (o OpType) String() string {
	switch o {
	case OpRead:
		return "GET"
	case OpWrite:
		return "PUT"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// KeyGenerator picks keys uniformly from a fixed keyspace
type KeyGenerator struct {
	prefix  string
	records int
}

func NewKeyGenerator(prefix string, records int) *KeyGenerator {
	if records < 1 {
		records = 1
	}
	return &KeyGenerator{prefix: prefix, records: records}
}

// Key returns the i-th key of the keyspace
func (g *KeyGenerator) Key(i int) string {
	return fmt.Sprintf("%s:%012d", g.prefix, i)
}

// Random returns a uniformly chosen key; rng belongs to the caller
func (g *KeyGenerator) Random(rng *rand.Rand) string {
	return g.Key(rng.Intn(g.records))
}

// OpSelector draws operations according to a distribution
type OpSelector struct {
	dist WorkloadDistribution
}

func NewOpSelector(dist WorkloadDistribution) *OpSelector {
	return &OpSelector{dist: dist}
}

// Select draws one operation; rng belongs to the caller
func (s *OpSelector) Select(rng *rand.Rand) OpType {
	n := rng.Intn(100)
	switch {
	case n < s.dist.Read:
		return OpRead
	case n < s.dist.Read+s.dist.Write:
		return OpWrite
	default:
		return OpDelete
	}
}

const valueAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateValue returns size random characters without spaces, so the value
// never looks like an HTTP version on the shared port
func generateValue(rng *rand.Rand, size int) string {
	b := make([]byte, size)
	for i := range b {
		b[i] = valueAlphabet[rng.Intn(len(valueAlphabet))]
	}
	return string(b)
}
