package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Log level and
// vocabulary are applied live; every other changed section is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VocabularyChanged bool
	NewVocabulary     []string

	// RestartRequired names the top-level sections (e.g. "providers") whose
	// changes only take effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VocabularyChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !slices.Equal(old.Pipeline.Vocabulary, new.Pipeline.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = slices.Clone(new.Pipeline.Vocabulary)
	}

	// Compare the remaining sections with the live fields masked out.
	oldRest, newRest := *old, *new
	oldRest.Server.LogLevel, newRest.Server.LogLevel = "", ""
	oldRest.Pipeline.Vocabulary, newRest.Pipeline.Vocabulary = nil, nil

	ov, nv := reflect.ValueOf(oldRest), reflect.ValueOf(newRest)
	t := ov.Type()
	for i := range t.NumField() {
		if !reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			d.RestartRequired = append(d.RestartRequired, t.Field(i).Tag.Get("yaml"))
		}
	}
	return d
}
