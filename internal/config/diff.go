package config

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "huddlebot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections, log fields
// describing them (never secrets) and the names of plugins whose enable flag
// or config changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.PollTimeout != nt.PollTimeout || ot.GroupLog != nt.GroupLog ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) || ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if oldCfg.Survey != newCfg.Survey {
		changed = append(changed, "survey")
		attrs = append(attrs,
			logx.String("survey.timeout", newCfg.Survey.Timeout),
			logx.Int("survey.max_recipients", newCfg.Survey.MaxRecipients),
		)
	}

	og, ng := oldCfg.Gemini, newCfg.Gemini
	if og != ng {
		changed = append(changed, "gemini")
		attrs = append(attrs,
			logx.String("gemini.model", ng.Model),
			logx.Bool("gemini.api_key_set", strings.TrimSpace(ng.APIKey) != ""),
		)
	}

	if oldCfg.Speech != newCfg.Speech {
		changed = append(changed, "speech")
		attrs = append(attrs, logx.String("speech.language", newCfg.Speech.Language))
	}

	if oldCfg.Router != newCfg.Router {
		changed = append(changed, "router")
		attrs = append(attrs,
			logx.Int("router.workers", newCfg.Router.Workers),
			logx.String("router.command_timeout", newCfg.Router.CommandTimeout),
		)
	}

	plugins := changedPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(plugins) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs, logx.Strs("plugins.changed", plugins))
	}
	return changed, attrs, plugins
}

func changedPlugins(a, b map[string]PluginConfigRaw) []string {
	names := map[string]struct{}{}
	for k := range a {
		names[k] = struct{}{}
	}
	for k := range b {
		names[k] = struct{}{}
	}
	var out []string
	for name := range names {
		pa, okA := a[name]
		pb, okB := b[name]
		if okA != okB || pa.Enabled != pb.Enabled || !bytes.Equal(compactJSON(pa.Config), compactJSON(pb.Config)) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func compactJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
