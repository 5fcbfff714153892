package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type config struct {
	storageConn   string
	tasksTable    string
	activityQueue string

	redisConn          string
	feedPrefix         string
	tasksCacheTTL      time.Duration
	invalidateCooldown time.Duration
	subscribeTimeout   time.Duration
	resubscribeEvery   time.Duration
	activityTimeout    time.Duration

	auth0Domain   string
	auth0Audience string
	jwksCacheTTL  time.Duration
	localAuthMode string
	localSecret   string

	listenAddr string
	debug      bool
}

func loadConfig() config {
	cfg := config{
		storageConn:        envString("STORAGE_CONNECTION_STRING", ""),
		tasksTable:         envString("TASKS_TABLE", ""),
		activityQueue:      envString("ACTIVITY_QUEUE", ""),
		redisConn:          envString("REDIS_CONNECTION_STRING", ""),
		feedPrefix:         envString("CHANGE_FEED_PREFIX", "board"),
		tasksCacheTTL:      envDur("TASKS_CACHE_TTL", 30*time.Second),
		invalidateCooldown: envDur("INVALIDATION_COOLDOWN", time.Second),
		subscribeTimeout:   envDur("SUBSCRIBE_TIMEOUT", 10*time.Second),
		resubscribeEvery:   envDur("RESUBSCRIBE_INTERVAL", 15*time.Second),
		activityTimeout:    envDur("ACTIVITY_TIMEOUT", 10*time.Second),
		auth0Domain:        envString("AUTH0_DOMAIN", ""),
		auth0Audience:      envString("AUTH0_AUDIENCE", ""),
		jwksCacheTTL:       envDur("JWKS_CACHE_TTL", 15*time.Minute),
		localAuthMode:      strings.ToLower(envString("LOCAL_AUTH_MODE", "")),
		localSecret:        envString("LOCAL_AUTH_SHARED_SECRET", ""),
		listenAddr:         ":" + strconv.Itoa(envInt("BOARD_SERVICE_PORT", 8080)),
		debug:              envBool("DEBUG", false),
	}
	if err := cfg.validate(); err != nil {
		log.Fatal(err)
	}
	return cfg
}

func (c config) validate() error {
	if c.storageConn == "" || c.tasksTable == "" {
		return fmt.Errorf("missing storage config")
	}
	if c.redisConn == "" {
		return fmt.Errorf("missing redis config")
	}
	switch c.localAuthMode {
	case "":
		if c.auth0Domain == "" || c.auth0Audience == "" {
			return fmt.Errorf("missing Auth0 config")
		}
	case "hs256":
		if c.localSecret == "" {
			return fmt.Errorf("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
	default:
		return fmt.Errorf("unsupported LOCAL_AUTH_MODE %q", c.localAuthMode)
	}
	return nil
}

// redisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatalf("invalid %s: must be a positive integer", key)
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %v", key, v)
	}
	return d
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, v)
	}
	return b
}
