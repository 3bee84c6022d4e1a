package config

import "time"

type Duration time.Duration

type Config struct {
	APIPort          int      `yaml:"apiPort,omitempty"`
	SettingsPath     string   `yaml:"settingsPath,omitempty"`
	HistoryPath      string   `yaml:"historyPath,omitempty"`
	HistoryRetention Duration `yaml:"historyRetention,omitempty"`
	PollInterval     Duration `yaml:"pollInterval,omitempty"`
	DoorTimeout      Duration `yaml:"doorTimeout,omitempty"`
	SwingTimeout     Duration `yaml:"swingTimeout,omitempty"`
	NotifyWorkers    int      `yaml:"notifyWorkers,omitempty"`
	NotifyQueue      int      `yaml:"notifyQueue,omitempty"`
	GPIO             GPIO     `yaml:"gpio"`
}

// GPIO maps the hardware lines. Line 0 is treated as unset so it cannot be
// assigned; the defaults match the original board wiring.
type GPIO struct {
	Chip          string `yaml:"chip,omitempty"`
	EntryData0    int    `yaml:"entryData0,omitempty"`
	EntryData1    int    `yaml:"entryData1,omitempty"`
	ExitData0     int    `yaml:"exitData0,omitempty"`
	ExitData1     int    `yaml:"exitData1,omitempty"`
	DoorSensor    int    `yaml:"doorSensor,omitempty"`
	EntrySolenoid int    `yaml:"entrySolenoid,omitempty"`
	ExitSolenoid  int    `yaml:"exitSolenoid,omitempty"`
}
