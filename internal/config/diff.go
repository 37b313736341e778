package config

import "slices"

// ConfigDiff describes what changed between two configs and whether the
// change can be applied to new calls without a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LiveChanged means a live provider entry (primary or fallback) changed
	// and providers must be rebuilt.
	LiveChanged bool

	// CallSetupChanged means voice, instructions, audio tuning or prompt
	// data changed. New calls pick it up; running calls keep their setup.
	CallSetupChanged bool

	// ExotelChanged means the outbound dialer must be rebuilt.
	ExotelChanged bool

	// RestartRequired lists settings that only take effect after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.StreamPath != new.Server.StreamPath {
		d.RestartRequired = append(d.RestartRequired, "server.stream_path")
	}
	if old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server.log_format")
	}

	if !sameEntry(old.Live.ProviderEntry, new.Live.ProviderEntry) ||
		!slices.EqualFunc(old.Live.Fallbacks, new.Live.Fallbacks, sameEntry) {
		d.LiveChanged = true
	}

	if old.Live.Voice != new.Live.Voice ||
		old.Live.Instructions != new.Live.Instructions ||
		old.Audio != new.Audio ||
		old.Data != new.Data {
		d.CallSetupChanged = true
	}

	if old.Exotel != new.Exotel {
		d.ExotelChanged = true
	}
	return d
}

// Sections returns the names of the changed areas, for logging.
func (d ConfigDiff) Sections() []string {
	var s []string
	if d.LogLevelChanged {
		s = append(s, "log_level")
	}
	if d.LiveChanged {
		s = append(s, "live")
	}
	if d.CallSetupChanged {
		s = append(s, "call_setup")
	}
	if d.ExotelChanged {
		s = append(s, "exotel")
	}
	return append(s, d.RestartRequired...)
}

// sameEntry compares provider entries, ignoring Options.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name &&
		a.APIKey == b.APIKey &&
		a.BaseURL == b.BaseURL &&
		a.APIVersion == b.APIVersion &&
		a.Model == b.Model
}
