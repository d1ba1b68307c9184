package main

import (
	"fmt"
	"strings"
	"testing"

	"huddlebot/internal/config"
)

func TestConfigRowsMaskSecrets(t *testing.T) {
	cfg := &config.Config{
		Telegram: config.TelegramConfig{Token: "123456:ABCDEFsecret", OwnerUserIDs: []int64{1, 2}},
		Gemini:   config.GeminiConfig{APIKey: "AIzaVerySecretKey"},
		Plugins: map[string]config.PluginConfigRaw{
			"survey": {Enabled: true},
			"party":  {Enabled: false},
		},
	}
	got := map[string]string{}
	var order []string
	for _, r := range configRows(cfg) {
		k := fmt.Sprint(r[0])
		got[k] = fmt.Sprint(r[1])
		order = append(order, k)
	}
	if got["telegram.token"] != "****cret" || got["gemini.api_key"] != "****tKey" {
		t.Fatalf("secrets not masked: %v", got)
	}
	if got["telegram.owner_user_ids"] != "1, 2" || got["survey.timeout"] != "1m0s" || got["survey.max_recipients"] != "20" {
		t.Fatalf("rows = %v", got)
	}
	if !strings.HasPrefix(order[len(order)-2], "plugins.party") || got["plugins.survey"] != "enabled" {
		t.Fatalf("plugin rows = %v", order)
	}
}
