package env

import "testing"

func TestGetEnvPrecedence(t *testing.T) {
	Env = map[string]string{"APP_PORT": "5000"}
	defer func() { Env = nil }()
	t.Setenv("APP_PORT", "6000")
	t.Setenv("APP_HOST", "0.0.0.0")

	if got := GetEnv("APP_PORT", "4000"); got != "5000" {
		t.Fatalf("env file must win over process env, got %q", got)
	}
	if got := GetEnv("APP_HOST", "localhost"); got != "0.0.0.0" {
		t.Fatalf("process env must win over default, got %q", got)
	}
	if got := GetEnv("MISSING", "fallback"); got != "fallback" {
		t.Fatalf("default must apply for unset keys, got %q", got)
	}
}

func TestGetIntEnv(t *testing.T) {
	Env = map[string]string{
		"RECONCILE_INTERVAL_MINUTES": "15",
		"BROKEN":                     "soon",
	}
	defer func() { Env = nil }()

	if got := GetIntEnv("RECONCILE_INTERVAL_MINUTES", 60); got != 15 {
		t.Fatalf("got %d, want 15", got)
	}
	if got := GetIntEnv("BROKEN", 60); got != 60 {
		t.Fatalf("non-numeric value must fall back, got %d", got)
	}
	if got := GetIntEnv("MISSING", 60); got != 60 {
		t.Fatalf("unset key must fall back, got %d", got)
	}
}
