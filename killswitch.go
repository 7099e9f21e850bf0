package callguard

import (
	"os"
	"strconv"
)

// KillSwitch is the process-wide, all-or-nothing short circuit consulted
// once at the start of every Execute, before any attempt is made. When
// writes are disabled, mutating operations fail fast with a non-retryable
// validation error; when network is disabled, every operation does.
type KillSwitch interface {
	// WritesDisabled blocks mutating operations when true.
	WritesDisabled() bool

	// NetworkDisabled blocks all operations when true.
	NetworkDisabled() bool
}

// StaticKillSwitch is a fixed-value KillSwitch. The zero value permits
// everything.
type StaticKillSwitch struct {
	DisableWrites  bool
	DisableNetwork bool
}

// WritesDisabled implements KillSwitch.
func (s StaticKillSwitch) WritesDisabled() bool { return s.DisableWrites }

// NetworkDisabled implements KillSwitch.
func (s StaticKillSwitch) NetworkDisabled() bool { return s.DisableNetwork }

// EnvKillSwitch reads the switches from environment variables on every call,
// so an operator can flip them for a running process that re-reads its
// environment, or per invocation. Unset or unparseable values count as
// "not disabled".
type EnvKillSwitch struct {
	// WritesVar is the variable gating mutating operations.
	WritesVar string

	// NetworkVar is the variable gating all operations.
	NetworkVar string
}

// NewEnvKillSwitch creates an EnvKillSwitch on the default variable names
// CALLGUARD_DISABLE_WRITES and CALLGUARD_DISABLE_NETWORK.
func NewEnvKillSwitch() *EnvKillSwitch {
	return &EnvKillSwitch{
		WritesVar:  "CALLGUARD_DISABLE_WRITES",
		NetworkVar: "CALLGUARD_DISABLE_NETWORK",
	}
}

// WritesDisabled implements KillSwitch.
func (k *EnvKillSwitch) WritesDisabled() bool { return envBool(k.WritesVar) }

// NetworkDisabled implements KillSwitch.
func (k *EnvKillSwitch) NetworkDisabled() bool { return envBool(k.NetworkVar) }

func envBool(name string) bool {
	if name == "" {
		return false
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
