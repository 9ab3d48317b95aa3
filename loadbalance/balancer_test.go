package loadbalance

import (
	"testing"

	"gostratum/registry"
)

var testEndpoints = []registry.Endpoint{
	{Addr: "pool-a:3333", Weight: 10, Version: "1.0"},
	{Addr: "pool-b:3333", Weight: 5, Version: "1.0"},
	{Addr: "pool-c:3333", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobin{}

	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		endpoint, err := b.Pick(testEndpoints)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = endpoint.Addr
	}

	// The fourth pick wraps around to the first.
	endpoint, _ := b.Pick(testEndpoints)
	if endpoint.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], endpoint.Addr)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobin{}
	if _, err := b.Pick(nil); err == nil {
		t.Fatal("expect error for empty endpoint list")
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandom{}

	counts := make(map[string]int)
	for i := 0; i < 200; i++ {
		endpoint, err := b.Pick(testEndpoints)
		if err != nil {
			t.Fatal(err)
		}
		counts[endpoint.Addr]++
	}

	for _, endpoint := range testEndpoints {
		if counts[endpoint.Addr] == 0 {
			t.Fatalf("endpoint %s was never picked", endpoint.Addr)
		}
	}
}

func TestWeightedRandomSkipsZeroWeight(t *testing.T) {
	b := &WeightedRandom{}
	endpoints := []registry.Endpoint{
		{Addr: "weighted:3333", Weight: 1},
		{Addr: "unweighted:3333", Weight: 0},
	}

	for i := 0; i < 50; i++ {
		endpoint, err := b.Pick(endpoints)
		if err != nil {
			t.Fatal(err)
		}
		if endpoint.Addr != "weighted:3333" {
			t.Fatalf("picked zero-weight endpoint %s", endpoint.Addr)
		}
	}
}

func TestWeightedRandomAllZeroWeightsFallsBack(t *testing.T) {
	b := &WeightedRandom{}
	endpoints := []registry.Endpoint{
		{Addr: "a:3333"},
		{Addr: "b:3333"},
	}

	if _, err := b.Pick(endpoints); err != nil {
		t.Fatal(err)
	}
}

func TestWeightedRandomEmpty(t *testing.T) {
	b := &WeightedRandom{}
	if _, err := b.Pick(nil); err == nil {
		t.Fatal("expect error for empty endpoint list")
	}
}
