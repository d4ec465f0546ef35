package daemon

// Config points the daemon at its on-disk state. Only the preset file is
// live-reloaded; the data directory holds the variable store.
type Config struct {
	DataDir      string `json:"dataDir"`
	PresetConfig string `json:"presetConfig"`
}
