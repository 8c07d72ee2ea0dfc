package nanocore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Alfredo-rv/SAAI/internal/model"
)

// ConfigChanges is the payload of a config_change proposal: dotted keys
// ("security.enable_sandboxing") mapped to their new values. Nested objects
// are accepted and flattened.
type ConfigChanges map[string]any

// ParseConfigChanges decodes and flattens a config_change payload
func ParseConfigChanges(data []byte) (ConfigChanges, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid config change payload: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("config change payload is empty")
	}
	out := make(ConfigChanges)
	flatten("", raw, out)
	return out, nil
}

func flatten(prefix string, in map[string]any, out ConfigChanges) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// Keys returns the changed keys in sorted order
func (c ConfigChanges) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var allowedAlgorithms = map[string]bool{
	"AES-256-GCM":       true,
	"ChaCha20-Poly1305": true,
}

// Protections that may never be switched off through a proposal
var protectedFlags = []string{
	"sandbox",
	"threat_detection",
	"audit_log",
	"intrusion_detection",
}

// EvaluateSecurityConfigChange rejects anything that weakens the node's
// security posture, including payloads it cannot read.
func EvaluateSecurityConfigChange(data []byte) model.VoteDecision {
	changes, err := ParseConfigChanges(data)
	if err != nil {
		return model.VoteReject
	}

	for _, key := range changes.Keys() {
		value := changes[key]
		leaf := key[strings.LastIndex(key, ".")+1:]

		if b, ok := value.(bool); ok && !b {
			for _, flag := range protectedFlags {
				if strings.Contains(leaf, flag) {
					return model.VoteReject
				}
			}
		}

		switch {
		case strings.Contains(leaf, "algorithm"):
			s, ok := value.(string)
			if !ok || !allowedAlgorithms[s] {
				return model.VoteReject
			}
		case strings.Contains(leaf, "key_size"):
			n, ok := value.(float64)
			if !ok || n < 256 {
				return model.VoteReject
			}
		case strings.Contains(leaf, "key_rotation"):
			n, ok := value.(float64)
			if !ok || n <= 0 || n > 168 {
				return model.VoteReject
			}
		}
	}
	return model.VoteApprove
}

// EvaluateNetworkConfigChange rejects changes that would cut connectivity.
// Unreadable payloads get an abstention since they say nothing about the network.
func EvaluateNetworkConfigChange(data []byte) model.VoteDecision {
	changes, err := ParseConfigChanges(data)
	if err != nil {
		return model.VoteAbstain
	}

	for _, key := range changes.Keys() {
		value := changes[key]
		leaf := key[strings.LastIndex(key, ".")+1:]

		switch {
		case strings.Contains(leaf, "max_connections"), strings.HasSuffix(leaf, "timeout_ms"):
			n, ok := value.(float64)
			if !ok || n <= 0 {
				return model.VoteReject
			}
		case strings.Contains(leaf, "endpoint"), leaf == "host", strings.HasSuffix(leaf, "url"):
			if isEmpty(value) {
				return model.VoteReject
			}
		}
	}
	return model.VoteApprove
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		if len(t) == 0 {
			return true
		}
		for _, e := range t {
			if isEmpty(e) {
				return true
			}
		}
	}
	return false
}
