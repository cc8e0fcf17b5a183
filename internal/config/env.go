package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coldbell/dex/trader/internal/quote"
	"github.com/gagliardetto/solana-go/rpc"
)

// envValue reads key through the runtime source and parses it; an unset key
// yields fallback.
func envValue[T any](key string, fallback T, parse func(string) (T, error)) (T, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envCommitment(key string, fallback rpc.CommitmentType) (rpc.CommitmentType, error) {
	return envValue(key, fallback, func(raw string) (rpc.CommitmentType, error) {
		switch strings.ToLower(raw) {
		case string(rpc.CommitmentProcessed):
			return rpc.CommitmentProcessed, nil
		case string(rpc.CommitmentConfirmed):
			return rpc.CommitmentConfirmed, nil
		case string(rpc.CommitmentFinalized):
			return rpc.CommitmentFinalized, nil
		default:
			return "", fmt.Errorf("%q (expected processed|confirmed|finalized)", raw)
		}
	})
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	return envValue(key, fallback, func(raw string) (time.Duration, error) {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, err
		}
		if d <= 0 {
			return 0, errors.New("must be > 0")
		}
		return d, nil
	})
}

func envInt(key string, fallback int) (int, error) {
	return envValue(key, fallback, func(raw string) (int, error) {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return 0, err
		}
		if v <= 0 {
			return 0, errors.New("must be > 0")
		}
		return v, nil
	})
}

func envUint64(key string, fallback uint64) (uint64, error) {
	return envValue(key, fallback, func(raw string) (uint64, error) {
		return strconv.ParseUint(raw, 10, 64)
	})
}

func envUint32(key string, fallback uint32) (uint32, error) {
	return envValue(key, fallback, func(raw string) (uint32, error) {
		v, err := strconv.ParseUint(raw, 10, 32)
		return uint32(v), err
	})
}

// envBps is a basis-point value bounded by 100%.
func envBps(key string, fallback uint32) (uint32, error) {
	return envValue(key, fallback, func(raw string) (uint32, error) {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return 0, err
		}
		if v > quote.BpsDenominator {
			return 0, fmt.Errorf("must be <= %d", quote.BpsDenominator)
		}
		return uint32(v), nil
	})
}

func envOptionalUint(key string) (*uint, error) {
	return envValue(key, (*uint)(nil), func(raw string) (*uint, error) {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		out := uint(v)
		return &out, nil
	})
}

func envBool(key string, fallback bool) (bool, error) {
	return envValue(key, fallback, strconv.ParseBool)
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(valueForKey(key)); value != "" {
		return value
	}
	return fallback
}

func parseCSVEnv(raw string, fallback []string) []string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func expandHomePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
