package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
)

// config holds settings shared by every sub-command. Values come from the
// environment, optionally seeded from a .env file in the working directory.
type config struct {
	Workers     int
	HeaderCache string
	CacheBytes  int64
}

func loadConfig() (config, error) {
	// a missing .env is normal; the environment alone is enough
	_ = godotenv.Load()

	cfg := config{
		Workers:     runtime.NumCPU(),
		HeaderCache: os.Getenv("LASCAT_HEADER_CACHE"),
	}
	if v := os.Getenv("LASCAT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("LASCAT_WORKERS: want a positive integer, got %q", v)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("LASCAT_CACHE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("LASCAT_CACHE_BYTES: want a non-negative integer, got %q", v)
		}
		cfg.CacheBytes = n
	}
	return cfg, nil
}
