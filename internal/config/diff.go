package config

// ConfigDiff describes what changed between two configs. Log level and
// segmenter thresholds can be applied while running; everything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SegmenterChanged bool
	NewSegmenter     SegmenterConfig

	// RestartRequired names changed settings that only take effect after a
	// restart, using their YAML paths.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SegmenterChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.Segmenter != new.Segmenter {
		d.SegmenterChanged = true
		d.NewSegmenter = new.Segmenter
	}

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("storage.root", old.Storage.Root != new.Storage.Root)
	restart("model", old.Model != new.Model)
	restart("audio", old.Audio != new.Audio)
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)

	return d
}
