package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuku/dbcon/config"
)

func TestExhaustedAction(t *testing.T) {
	tests := []struct {
		in   string
		want config.ExhaustedAction
	}{
		{"fail", config.Fail},
		{"BLOCK", config.Block},
		{" Grow ", config.Grow},
		{"0", config.Fail},
		{"1", config.Block},
		{"2", config.Grow},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var a config.ExhaustedAction
			require.NoError(t, a.UnmarshalText([]byte(tt.in)))
			assert.Equal(t, tt.want, a)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		var a config.ExhaustedAction
		assert.Error(t, a.UnmarshalText([]byte("wait")))
	})

	t.Run("marshal", func(t *testing.T) {
		b, err := config.Block.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, "block", string(b))

		_, err = config.ExhaustedAction(7).MarshalText()
		assert.Error(t, err)
	})
}

func TestConnectionConfigValidate(t *testing.T) {
	valid := config.Defaults()
	valid.Name = "reports"
	valid.Driver = "pgx"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(c *config.ConnectionConfig)
	}{
		{"empty name", func(c *config.ConnectionConfig) { c.Name = "" }},
		{"zero max active", func(c *config.ConnectionConfig) { c.MaxActive = 0 }},
		{"negative max idle", func(c *config.ConnectionConfig) { c.MaxIdle = -1 }},
		{"negative cache", func(c *config.ConnectionConfig) { c.CachedStatements = -1 }},
		{"bad exhausted action", func(c *config.ConnectionConfig) { c.Exhausted = config.ExhaustedAction(9) }},
		{"negative eviction interval", func(c *config.ConnectionConfig) { c.EvictionInterval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid.Clone()
			tt.modify(&c)
			assert.Error(t, c.Validate())
		})
	}

	t.Run("empty driver is accepted", func(t *testing.T) {
		c := valid.Clone()
		c.Driver = ""
		assert.NoError(t, c.Validate())
	})
}

func TestConnectionConfigClone(t *testing.T) {
	base := config.Defaults()
	base.Name = "reports"
	base.URL = "postgres://db1/reports"

	clone := base.Clone()
	clone.MaxActive = 1
	clone.URL = "postgres://db2/reports"
	clone.WorkingURL = "postgres://db2/reports"

	assert.Equal(t, 8, base.MaxActive)
	assert.Equal(t, "postgres://db1/reports", base.URL)
	assert.Empty(t, base.WorkingURL)
}

func TestStaticSource(t *testing.T) {
	a := config.Defaults()
	a.Name = "b-db"
	b := config.Defaults()
	b.Name = "a-db"
	broken := config.Defaults()
	broken.Name = "broken"
	broken.MaxActive = 0

	src := config.NewStaticSource(a, b, broken)

	names, err := src.AvailableNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-db", "b-db", "broken"}, names)

	got, err := src.Config("a-db")
	require.NoError(t, err)
	assert.Equal(t, "a-db", got.Name)

	_, err = src.Config("missing")
	assert.ErrorIs(t, err, config.ErrUnknownSynonym)

	assert.True(t, src.Check("a-db"))
	assert.False(t, src.Check("broken"))
	assert.False(t, src.Check("missing"))

	src.Remove("a-db")
	assert.False(t, src.Check("a-db"))
	require.NoError(t, src.Reload())
}
