package kafkasrc

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Brokers             []string
	Topic               string
	Partition           int32
	InitialOffsetOldest bool
	// MaxMessages bounds one Accepts call; <= 0 reads to the high water mark.
	MaxMessages int
	// IdleTimeout ends a read when no message arrives in time.
	IdleTimeout time.Duration
}

func FromEnv() Config {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "dggs-features"
	}

	return Config{
		Brokers:             splitCSV(brokers),
		Topic:               topic,
		Partition:           int32(envInt("KAFKA_PARTITION", 0)),
		InitialOffsetOldest: true,
		MaxMessages:         envInt("KAFKA_MAX_MESSAGES", 10000),
		IdleTimeout:         2 * time.Second,
	}
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
