package main

import (
	"testing"
	"time"
)

func TestRedisOptions(t *testing.T) {
	tests := []struct {
		name     string
		conn     string
		addr     string
		password string
		tls      bool
	}{
		{name: "url", conn: "redis://:secret@localhost:6379/0", addr: "localhost:6379", password: "secret"},
		{name: "azure", conn: "cache.example.net:6380,password=pw=,ssl=True,abortConnect=False", addr: "cache.example.net:6380", password: "pw=", tls: true},
		{name: "plain", conn: "localhost:6379", addr: "localhost:6379"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := redisOptions(tt.conn)
			if err != nil {
				t.Fatalf("redisOptions: %v", err)
			}
			if opts.Addr != tt.addr || opts.Password != tt.password || (opts.TLSConfig != nil) != tt.tls {
				t.Fatalf("unexpected options: addr=%s password=%s tls=%v", opts.Addr, opts.Password, opts.TLSConfig != nil)
			}
		})
	}
	if _, err := redisOptions(",password=x"); err == nil {
		t.Fatalf("expected error for missing address")
	}
}

func TestConfigValidate(t *testing.T) {
	base := config{storageConn: "UseDevelopmentStorage=true", tasksTable: "tasks", redisConn: "localhost:6379", localAuthMode: "hs256", localSecret: "s"}
	if err := base.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := map[string]func(c *config){
		"storage":      func(c *config) { c.tasksTable = "" },
		"redis":        func(c *config) { c.redisConn = "" },
		"local secret": func(c *config) { c.localSecret = "" },
		"auth mode":    func(c *config) { c.localAuthMode = "none" },
		"auth0":        func(c *config) { c.localAuthMode = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			if err := c.validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("BOARD_TEST_DUR", "250ms")
	t.Setenv("BOARD_TEST_INT", "9000")
	t.Setenv("BOARD_TEST_BOOL", "true")

	if got := envDur("BOARD_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("envDur = %v", got)
	}
	if got := envDur("BOARD_TEST_UNSET", time.Second); got != time.Second {
		t.Fatalf("envDur default = %v", got)
	}
	if got := envInt("BOARD_TEST_INT", 1); got != 9000 {
		t.Fatalf("envInt = %d", got)
	}
	if !envBool("BOARD_TEST_BOOL", false) {
		t.Fatalf("envBool = false")
	}
	if got := envString("BOARD_TEST_UNSET", "def"); got != "def" {
		t.Fatalf("envString default = %q", got)
	}
}
