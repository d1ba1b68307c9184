package plugin

import (
	"huddlebot/internal/config"
	"huddlebot/internal/runtime/lifecycle"
	"huddlebot/internal/runtime/supervisor"
	"huddlebot/internal/transport/telegram/router"
)

type Config = config.Config

type ConfigManager = config.ConfigManager

type PluginConfigRaw = config.PluginConfigRaw

type Supervisor = supervisor.Supervisor

type StopReason = lifecycle.StopReason

// Router API re-exported for plugins.

type Access = router.Access

const (
	AccessEveryone  = router.AccessEveryone
	AccessOwnerOnly = router.AccessOwnerOnly
)

type Command = router.Command

type Request = router.Request

type HandlerFunc = router.HandlerFunc

type Services = router.Services

type CommandManager = router.CommandManager
