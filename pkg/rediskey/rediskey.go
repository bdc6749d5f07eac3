package rediskey

import "fmt"

// Ledger keys (global convention across services)
const (
	LedgerSeenPrefix = "ledger:sales:seen"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildLedgerSeenKey returns "{prefix}:{env}". An empty prefix falls back to
// LedgerSeenPrefix so replicas of one environment share a single set.
func BuildLedgerSeenKey(prefix, env string) string {
	if prefix == "" {
		prefix = LedgerSeenPrefix
	}
	if env == "" {
		return prefix
	}
	return NamespaceKey(prefix, env)
}
