package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MarketShard pins a group of markets to one local source IP and,
// optionally, its own feed endpoint. Feeds rate-limit per connection and IP.
type MarketShard struct {
	IP       string   `yaml:"ip"`
	Endpoint string   `yaml:"endpoint"`
	Markets  []string `yaml:"markets"`
}

type MarketShards struct {
	Shards []MarketShard `yaml:"shards"`
}

// LoadMarketShards reads the shard file. A missing file yields no shards.
func LoadMarketShards(path string) (*MarketShards, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &MarketShards{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read shards file: %w", err)
	}
	var cfg MarketShards
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse shards file: %w", err)
	}
	seen := map[string]int{}
	for i, shard := range cfg.Shards {
		for _, m := range shard.Markets {
			if prev, ok := seen[m]; ok {
				return nil, fmt.Errorf("market %s assigned to shards %d and %d", m, prev, i)
			}
			seen[m] = i
		}
	}
	return &cfg, nil
}

// Lookup returns the shard that owns market.
func (s *MarketShards) Lookup(market string) (MarketShard, bool) {
	for _, shard := range s.Shards {
		for _, m := range shard.Markets {
			if m == market {
				return shard, true
			}
		}
	}
	return MarketShard{}, false
}
