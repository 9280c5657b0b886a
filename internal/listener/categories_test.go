package listener

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeChannelLists(t *testing.T, managed, storm, ignored []string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "channel_lists.json")
	raw, err := json.Marshal(channelListsFile{
		ManagedChannels: managed,
		StormChannels:   storm,
		IgnoredChannels: ignored,
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestClassify(t *testing.T) {
	path := writeChannelLists(t,
		[]string{"acme-admin"},
		[]string{"stormco-admins"},
		nil,
	)
	cats := LoadCategories(path)

	tests := []struct {
		name     string
		channel  string
		category string
		ok       bool
	}{
		{"agent suffix", "acme-agent", CategoryAgent, true},
		{"agents suffix", "acme-agents", CategoryAgent, true},
		{"apptbk suffix", "acme-apptbk", CategoryApptbk, true},
		{"managed admin", "acme-admin", CategoryManagedAdmin, true},
		{"storm admin", "stormco-admins", CategoryStormAdmin, true},
		{"unknown admin skipped", "other-admin", "", false},
		{"non-target channel", "random", "", false},
		{"apptbk wins over admin lists", "acme-apptbk", CategoryApptbk, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, ok := cats.Classify(tt.channel)
			if ok != tt.ok || category != tt.category {
				t.Fatalf("Classify(%q) = (%q, %v), want (%q, %v)",
					tt.channel, category, ok, tt.category, tt.ok)
			}
		})
	}
}

func TestIgnoredChannels(t *testing.T) {
	path := writeChannelLists(t, nil, nil, []string{"custom-ignored"})
	cats := LoadCategories(path)

	for _, name := range []string{"ccdocs-agents", "master-agent", "custom-ignored"} {
		if !cats.Ignored(name) {
			t.Fatalf("%s must be ignored", name)
		}
	}
	if cats.Ignored("acme-agent") {
		t.Fatalf("acme-agent must not be ignored")
	}
}

func TestLoadCategoriesMissingFileUsesDefaults(t *testing.T) {
	cats := LoadCategories(filepath.Join(t.TempDir(), "missing.json"))

	if !cats.Ignored("test-admins") {
		t.Fatalf("default ignored list must contain test-admins")
	}
	if _, ok := cats.Classify("acme-admin"); ok {
		t.Fatalf("admin channels must be unknown without lists")
	}
	if category, ok := cats.Classify("acme-agent"); !ok || category != CategoryAgent {
		t.Fatalf("suffix classification must work without lists")
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := writeChannelLists(t, []string{"acme-admin"}, nil, nil)
	cats := LoadCategories(path)

	if category, _ := cats.Classify("acme-admin"); category != CategoryManagedAdmin {
		t.Fatalf("expected managed_admin before reload")
	}

	raw, err := json.Marshal(channelListsFile{StormChannels: []string{"acme-admin"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := cats.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if category, _ := cats.Classify("acme-admin"); category != CategoryStormAdmin {
		t.Fatalf("expected storm_admin after reload, got %s", category)
	}
}
