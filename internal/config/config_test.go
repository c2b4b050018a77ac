package config

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestModuleIDRoundTrip(t *testing.T) {
	for _, name := range []string{"KNLM", "PRPD_CLIENT", "FPM_SERVER", "FPM_CLIENT", "NLM_SERVER", "NLM_CLIENT"} {
		id, ok := ParseModuleID(name)
		assert.Check(t, ok, name)
		assert.Check(t, is.Equal(id.String(), name))
	}

	_, ok := ParseModuleID("NOT_A_ROLE")
	assert.Check(t, !ok)

	_, ok = ParseModuleID("MODULE_ALL")
	assert.Check(t, !ok, "MODULE_ALL is a sentinel bound, never a selectable role")
}

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nlagent.yaml")

	cfg, faults, err := Load(path)
	assert.NilError(t, err)
	assert.Check(t, is.Len(faults, 0))

	assert.Check(t, is.Equal(cfg.Modules[KNLM].Enabled, true))

	prpd := cfg.Modules[PRPDClient]
	assert.Check(t, is.Equal(prpd.Enabled, true))
	assert.Check(t, is.Equal(prpd.Addr, "127.0.0.1"))
	assert.Check(t, is.Equal(prpd.Port, 40051))
	assert.Check(t, prpd.NotifyMe[FPMClient])

	fpmc := cfg.Modules[FPMClient]
	assert.Check(t, is.Equal(fpmc.Port, 2620))
	assert.Check(t, is.DeepEqual(fpmc.Policy[FilterProtocol], []int{22}))
	assert.Check(t, is.DeepEqual(fpmc.Policy[SetProtocol], []int{0}))
	assert.Check(t, is.DeepEqual(fpmc.Policy[StripRTAttr], []int{7, 12, 15, 20}))
	assert.Check(t, fpmc.NotifyMe[KNLM])

	assert.Check(t, is.Equal(cfg.Modules[FPMServer].Enabled, false))
}

func TestLoadUnknownModuleIsAFaultNotAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nlagent.yaml")
	raw := `nlagent-modules:
  - module: NOT_A_ROLE
  - module: KNLM
`
	assert.NilError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, faults, err := Load(path)
	assert.NilError(t, err)
	assert.Check(t, is.Len(faults, 1))
	assert.Check(t, is.Equal(faults[0].Module, "NOT_A_ROLE"))
	assert.Check(t, is.Equal(cfg.Modules[KNLM].Enabled, true))
}

func TestLoadPolicyOverflowIsAFault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nlagent.yaml")

	raw := "nlagent-modules:\n  - module: FPM_CLIENT\n    policy:\n"
	for i := 0; i < MaxPolicyEntries+1; i++ {
		raw += "      - filter-table: 1\n"
	}
	assert.NilError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, faults, err := Load(path)
	assert.NilError(t, err)
	assert.Check(t, is.Len(faults, 1))
	assert.Check(t, is.Len(cfg.Modules[FPMClient].Policy[FilterTable], MaxPolicyEntries))
}
