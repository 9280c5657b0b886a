package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadBotCredentials(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-1")
	t.Setenv("SLACK_APP_TOKEN", "xapp-1")
	t.Setenv("SLACK_BOT_TOKEN_2", "xoxb-2")
	t.Setenv("SLACK_APP_TOKEN_2", "xapp-2")
	t.Setenv("SLACK_BOT_TOKEN_3", "xoxb-3")
	t.Setenv("SLACK_APP_TOKEN_3", "xapp-3")
	// Bot 4 missing app token: enumeration stops at 3.
	t.Setenv("SLACK_BOT_TOKEN_4", "xoxb-4")

	bots, err := loadBotCredentials()
	require.NoError(t, err)
	require.Len(t, bots, 3)
	require.Equal(t, 1, bots[0].ID)
	require.Equal(t, "xoxb-1", bots[0].BotToken)
	require.Equal(t, "Bot-1", bots[0].Name)
	require.Equal(t, 3, bots[2].ID)
	require.Equal(t, "xapp-3", bots[2].AppToken)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-1")
	t.Setenv("SLACK_APP_TOKEN", "xapp-1")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 300*time.Second, cfg.ClaimTTL)
	require.Equal(t, 7*24*time.Hour, cfg.MappingTTL)
	require.Equal(t, 1, cfg.WorkerCount)
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, "data/channel_assignment.json", cfg.AssignmentFile)
	require.Equal(t, "data/channel_lists.json", cfg.ChannelListsFile)
	require.Equal(t, 1, cfg.BotID)
}

func TestLoadChannelListsPath(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-1")
	t.Setenv("SLACK_APP_TOKEN", "xapp-1")
	t.Setenv("CHANNEL_LISTS_PATH", "/etc/relay/channel_lists.json")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/etc/relay/channel_lists.json", cfg.ChannelListsFile)
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_APP_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
}

func TestMasterChannelsResolve(t *testing.T) {
	m := MasterChannels{
		Agent:        "C-AGENT",
		Apptbk:       "C-APPTBK",
		ManagedAdmin: "C-MANAGED",
		StormAdmin:   "C-STORM",
	}

	tests := []struct {
		category string
		want     string
	}{
		{"agent", "C-AGENT"},
		{"apptbk", "C-APPTBK"},
		{"managed_admin", "C-MANAGED"},
		{"storm_admin", "C-STORM"},
		{"unknown", ""},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, m.Resolve(tt.category), "Resolve(%q)", tt.category)
	}
}

func TestMasterChannelsValidate(t *testing.T) {
	m := MasterChannels{Agent: "C1", Apptbk: "C2", ManagedAdmin: "C3", StormAdmin: "C4"}
	require.NoError(t, m.Validate())

	m.StormAdmin = ""
	require.Error(t, m.Validate())
}
