package config

// ConfigDiff describes what changed between two configs. The log level can
// be applied to a running process; the other flags mark settings that only
// take effect when the next session starts.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AgentChanged is true if the agent endpoint, model, key, or handshake
	// timeout differ.
	AgentChanged bool

	// SessionChanged is true if any audio or conversation parameter differs.
	SessionChanged bool

	// TranscriptChanged is true if the persistence settings differ.
	TranscriptChanged bool
}

// HasChanges reports whether d records any difference at all.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.AgentChanged || d.SessionChanged || d.TranscriptChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Agent != new.Agent {
		d.AgentChanged = true
	}
	if old.Session != new.Session {
		d.SessionChanged = true
	}
	if old.Transcript != new.Transcript {
		d.TranscriptChanged = true
	}

	return d
}
