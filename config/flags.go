package config

import (
	"os"
	"strings"
)

// Environment variables backing the store selector.
const (
	EnvAnalyticsDisabled = "ANALYTICS_DISABLED"
	EnvDualFetchEnabled  = "DUAL_FETCH_ENABLED"
)

// FlagSource decides which stores participate in an operation.
type FlagSource interface {
	// AnalyticsDisabled routes reads and writes to the relational store only.
	AnalyticsDisabled() bool
	// DualFetchEnabled adds the relational store to reads while analytics is on.
	DualFetchEnabled() bool
}

// EnvFlags reads the flags from the environment on every call so operators
// can flip them without a restart.
type EnvFlags struct{}

func (EnvFlags) AnalyticsDisabled() bool { return truthy(os.Getenv(EnvAnalyticsDisabled)) }

func (EnvFlags) DualFetchEnabled() bool { return truthy(os.Getenv(EnvDualFetchEnabled)) }

// StaticFlags is a fixed flag set.
type StaticFlags struct {
	Disabled  bool
	DualFetch bool
}

func (f StaticFlags) AnalyticsDisabled() bool { return f.Disabled }

func (f StaticFlags) DualFetchEnabled() bool { return f.DualFetch }

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
