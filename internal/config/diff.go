package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is set when any session setting differs. New sessions
	// use the new values; live sessions keep theirs.
	SessionChanged bool

	// RestartRequired lists changed top-level keys that only take effect
	// after a restart (e.g. "providers.llm", "server.listen_addr").
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SessionChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.SessionChanged = !reflect.DeepEqual(old.Session, new.Session)

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("server.static_dir", old.Server.StaticDir != new.Server.StaticDir)
	restart("server.max_sessions", old.Server.MaxSessions != new.Server.MaxSessions)
	restart("server.write_timeout", old.Server.WriteTimeout != new.Server.WriteTimeout)
	restart("providers.vad", !reflect.DeepEqual(old.Providers.VAD, new.Providers.VAD))
	restart("providers.stt", !reflect.DeepEqual(old.Providers.STT, new.Providers.STT))
	restart("providers.llm", !reflect.DeepEqual(old.Providers.LLM, new.Providers.LLM))
	restart("providers.tts", !reflect.DeepEqual(old.Providers.TTS, new.Providers.TTS))
	restart("telemetry", old.Telemetry != new.Telemetry)

	return d
}
