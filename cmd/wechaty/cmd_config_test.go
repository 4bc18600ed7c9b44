package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinuxSuRen/wechaty/internal/config"
)

func TestConfigSetCommand(t *testing.T) {
	old := cfgPath
	t.Cleanup(func() { cfgPath = old })
	cfgPath = filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, config.Save(cfgPath, config.Default()))

	require.NoError(t, configSetCmd.RunE(configSetCmd, []string{"telegram.token", "123456:secret"}))
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "123456:secret", cfg.Telegram.Token)

	err = configSetCmd.RunE(configSetCmd, []string{"watchdog.scan_timeout", "-1s"})
	assert.Error(t, err)
	cfg, err = config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "2m", cfg.Watchdog.ScanTimeout)
}
