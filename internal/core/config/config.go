package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type LogCfg struct {
	Level   string
	Console bool
	SampleN int
}

type StoreCfg struct {
	RedisAddr    string
	OpTimeout    time.Duration
	MaxFanout    int
	SelectionTTL time.Duration
}

type IngestCfg struct {
	Enabled    bool
	Layer      string
	Resolution int
	Interval   time.Duration
}

type Config struct {
	Addr string
	Log  LogCfg

	Grid         string
	GridMaxRes   int
	ZoneMemoSize int

	Store  StoreCfg
	Ingest IngestCfg
}

func FromEnv() Config {
	grid := strings.ToLower(getenv("DGGS_GRID", "h3"))
	return Config{
		Addr: getenv("ADDR", ":8090"),
		Log: LogCfg{
			Level:   getenv("LOG_LEVEL", "info"),
			Console: getbool("LOG_CONSOLE", false),
			SampleN: getint("LOG_SAMPLE_N", 0),
		},

		Grid:         grid,
		GridMaxRes:   getint("DGGS_GRID_MAX_RES", defaultMaxRes(grid)),
		ZoneMemoSize: getint("DGGS_ZONE_MEMO_SIZE", 4096),

		Store: StoreCfg{
			RedisAddr:    getenv("REDIS_ADDR", ""),
			OpTimeout:    getduration("STORE_OP_TIMEOUT", 250*time.Millisecond),
			MaxFanout:    getint("STORE_MAX_FANOUT", 4),
			SelectionTTL: getduration("STORE_SELECTION_TTL", 0),
		},
		Ingest: IngestCfg{
			Enabled:    getbool("INGEST_ENABLED", false),
			Layer:      getenv("INGEST_LAYER", "features"),
			Resolution: getint("INGEST_RESOLUTION", 7),
			Interval:   getduration("INGEST_INTERVAL", 5*time.Second),
		},
	}
}

func defaultMaxRes(grid string) int {
	switch grid {
	case "s2":
		return 30
	case "quad":
		return 20
	}
	return 15
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
