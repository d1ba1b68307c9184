package router

import (
	"huddlebot/internal/config"
	"huddlebot/internal/runtime/supervisor"
)

// Aliases so plugins can depend on the router alone.

type Config = config.Config

type ConfigManager = config.ConfigManager

type Supervisor = supervisor.Supervisor
