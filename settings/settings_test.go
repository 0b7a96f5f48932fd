package settings

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "user_config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
useragent: test-agent
asset-directory: /srv/assets
download-folder-listtype: whitelist
download-folder-list:
  - char/
  - cv/
concurrency:
  downloads: 4
  hashing: 2
clients:
  EN:
    cdnurl: https://cdn.example.com
    version-feed: /srv/feeds/en.txt
`

func TestLoad_WritesTemplateWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "user_config.yml")

	s, err := Load(path, nil)
	require.NoError(t, err)
	assert.FileExists(t, path)

	assert.Equal(t, "", s.UserAgent)
	assert.Equal(t, "ClientAssets", s.AssetDirectory)
	assert.Equal(t, "blacklist", s.FilterMode)
	assert.Equal(t, Concurrency{Downloads: 6, Hashing: 5}, s.Concurrency)
	assert.Len(t, s.Clients, 5)
	assert.Equal(t, slog.LevelInfo, s.Level())
}

func TestLoad_ReadsFile(t *testing.T) {
	s, err := Load(writeConfig(t, validConfig), nil)
	require.NoError(t, err)

	assert.Equal(t, "test-agent", s.UserAgent)
	assert.Equal(t, []string{"char/", "cv/"}, s.FilterList)
	assert.Equal(t, Concurrency{Downloads: 4, Hashing: 2}, s.Concurrency)
	assert.Equal(t, filepath.Join("/srv/assets", "EN"), s.ClientDir("EN"))

	c, err := s.Client("en")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com", c.CDNURL)
	assert.Equal(t, "/srv/feeds/en.txt", c.VersionFeed)

	f := s.Filter()
	assert.True(t, f.Allows("char/a"))
	assert.False(t, f.Allows("bgm/b"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AZLASSETS_USERAGENT", "from-env")
	t.Setenv("AZLASSETS_CONCURRENCY_DOWNLOADS", "9")

	s, err := Load(writeConfig(t, validConfig), nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.UserAgent)
	assert.Equal(t, 9, s.Concurrency.Downloads)
}

func TestLoad_FlagsOverride(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--log-level=debug"}))

	s, err := Load(writeConfig(t, validConfig), flags)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, s.Level())
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	s, err := Load(writeConfig(t, "asset-directory: ~/mirror\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "mirror"), s.AssetDirectory)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"filter mode", "download-folder-listtype: greylist\n"},
		{"downloads", "concurrency:\n  downloads: 0\n"},
		{"hashing", "concurrency:\n  hashing: -1\n"},
		{"log level", "log-level: loud\n"},
		{"client", "clients:\n  XX:\n    cdnurl: https://x\n"},
		{"asset directory", "asset-directory: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.config), nil)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestClient_Unconfigured(t *testing.T) {
	s, err := Load(writeConfig(t, validConfig), nil)
	require.NoError(t, err)

	_, err = s.Client("JP")
	assert.ErrorIs(t, err, ErrInvalid)

	s.Clients["jp"] = Client{}
	_, err = s.Client("JP")
	assert.ErrorIs(t, err, ErrInvalid, "empty cdnurl")
}
