package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

func (d *Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(*d).String())
}

func (d *Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(*d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	out, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(out)
	return nil
}

// LoadConfig reads the daemon config. A missing file is not an error: every
// field has a default matching the original board, so a bare install runs
// without any config at all.
func LoadConfig(file string) (*Config, error) {
	bytes, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			config := &Config{}
			config.applyDefaults()
			return config, nil
		}
		return nil, err
	}
	config := &Config{}
	if err = yaml.Unmarshal(bytes, config); err != nil {
		return nil, err
	}
	config.applyDefaults()
	if err = config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.APIPort == 0 {
		c.APIPort = 8000
	}
	if c.SettingsPath == "" {
		c.SettingsPath = "./settings.bin"
	}
	if c.HistoryPath == "" {
		c.HistoryPath = "./history.db"
	}
	if c.HistoryRetention == 0 {
		c.HistoryRetention = Duration(30 * 24 * time.Hour)
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(5 * time.Millisecond)
	}
	if c.DoorTimeout == 0 {
		c.DoorTimeout = Duration(60 * time.Second)
	}
	if c.SwingTimeout == 0 {
		c.SwingTimeout = Duration(3 * time.Second)
	}
	if c.NotifyWorkers == 0 {
		c.NotifyWorkers = 2
	}
	if c.NotifyQueue == 0 {
		c.NotifyQueue = 16
	}
	if c.GPIO.Chip == "" {
		c.GPIO.Chip = "gpiochip0"
	}
	if c.GPIO.EntryData0 == 0 {
		c.GPIO.EntryData0 = 5
	}
	if c.GPIO.EntryData1 == 0 {
		c.GPIO.EntryData1 = 4
	}
	if c.GPIO.ExitData0 == 0 {
		c.GPIO.ExitData0 = 12
	}
	if c.GPIO.ExitData1 == 0 {
		c.GPIO.ExitData1 = 14
	}
	if c.GPIO.DoorSensor == 0 {
		c.GPIO.DoorSensor = 13
	}
	if c.GPIO.EntrySolenoid == 0 {
		c.GPIO.EntrySolenoid = 2
	}
	if c.GPIO.ExitSolenoid == 0 {
		c.GPIO.ExitSolenoid = 16
	}
}

func (c *Config) validate() error {
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("apiPort out of range: %d", c.APIPort)
	}
	pins := []int{
		c.GPIO.EntryData0, c.GPIO.EntryData1,
		c.GPIO.ExitData0, c.GPIO.ExitData1,
		c.GPIO.DoorSensor,
		c.GPIO.EntrySolenoid, c.GPIO.ExitSolenoid,
	}
	if dupes := lo.FindDuplicates(pins); len(dupes) > 0 {
		return fmt.Errorf("gpio line assigned more than once: %v", dupes)
	}
	return nil
}
