// Command rbmeterctl polls a Route-B smart electric energy meter on a
// fixed interval and logs the readings. Adapted from the teacher's
// monitoring loop in main.go: same config-file/syslog/ticker shape,
// driving kuramo.ch/rbmeter instead of raw ECHONET Lite UDP frames.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/syslog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"kuramo.ch/rbmeter/echonetlite"
	rbmeter "kuramo.ch/rbmeter/rbmeter"
	"kuramo.ch/rbmeter/rberrors"
	"kuramo.ch/rbmeter/session"
)

const configFileName = "config.toml"

// Config maps the TOML configuration file. The route_b_* and device
// fields feed session.Config; the remaining fields control the
// monitoring loop, matching the teacher's knobs for cadence and
// logging verbosity.
type Config struct {
	Device                 string `toml:"device"`
	BaudRate               int    `toml:"baud_rate"`
	RouteBID               string `toml:"route_b_id"`
	RouteBPassword         string `toml:"route_b_pwd"`
	MonitorIntervalSeconds int    `toml:"monitor_interval_seconds"`
	LogMonitoringData      bool   `toml:"log_monitoring_data"`
}

func setupLogger() {
	syslogWriter, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, "rbmeterctl")
	if err != nil {
		log.Printf("warning: could not connect to syslog: %v. logging to stdout only.", err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stdout, syslogWriter))
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func loadConfig(filePath string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", filePath, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", filePath, err)
	}

	if cfg.Device == "" {
		return nil, fmt.Errorf("config file %q: 'device' is required", filePath)
	}
	if cfg.RouteBID == "" || cfg.RouteBPassword == "" {
		return nil, fmt.Errorf("config file %q: 'route_b_id' and 'route_b_pwd' are required", filePath)
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	if cfg.MonitorIntervalSeconds <= 0 {
		log.Printf("'monitor_interval_seconds' unset or non-positive, defaulting to 10 minutes")
		cfg.MonitorIntervalSeconds = 600
	}

	return &cfg, nil
}

func sessionConfig(cfg *Config) session.Config {
	sc := session.DefaultConfig()
	sc.Device = cfg.Device
	sc.Baud = cfg.BaudRate
	sc.RouteBID = cfg.RouteBID
	sc.Password = cfg.RouteBPassword
	return sc
}

func main() {
	loopCount := flag.Int("loop", -1, "number of monitoring cycles to run; -1 runs forever")
	flag.Parse()

	setupLogger()

	cfg, err := loadConfig(configFileName)
	if err != nil {
		log.Fatalf("could not load configuration: %v", err)
	}
	log.Printf("loaded config file %q: device=%s monitor_interval_seconds=%d", configFileName, cfg.Device, cfg.MonitorIntervalSeconds)

	client, err := openWithRetry(cfg)
	if err != nil {
		log.Fatalf("could not open meter session: %v", err)
	}
	defer client.Close()

	ticker := time.NewTicker(time.Duration(cfg.MonitorIntervalSeconds) * time.Second)
	defer ticker.Stop()

	log.Printf("monitoring started, interval=%ds", cfg.MonitorIntervalSeconds)

	for i := 0; *loopCount == -1 || i < *loopCount; i++ {
		if i > 0 {
			<-ticker.C
		}

		power, current, energy, err := pollOnce(client)
		if err != nil {
			if errors.Is(err, rberrors.ErrNeedToReopen) {
				log.Printf("session unusable (%v), reopening", err)
				client.Close()
				client, err = openWithRetry(cfg)
				if err != nil {
					log.Fatalf("could not reopen meter session: %v", err)
				}
				continue
			}
			log.Printf("poll failed: %v", err)
			continue
		}

		if cfg.LogMonitoringData {
			log.Printf("instantaneous power: %.0f W, current: R=%.1fA T=%.1fA, cumulative energy: %.2f kWh",
				power, current.RPhase, current.TPhase, energy)
		}
	}
}

// openWithRetry opens a session against the configured serial device.
// It makes a single Open attempt and does not retry on failure.
// rbmeterctl is a long-running daemon; a failed open is fatal at
// startup but, mid-run, a NeedToReopen simply triggers another call.
func openWithRetry(cfg *Config) (*rbmeter.Client, error) {
	return rbmeter.Open(sessionConfig(cfg), log.Default())
}

// pollOnce fetches the readings rbmeterctl reports each cycle.
func pollOnce(c *rbmeter.Client) (power float64, current echonetlite.CurrentPair, energy float64, err error) {
	power, err = c.GetInstantaneousPower()
	if err != nil {
		return 0, echonetlite.CurrentPair{}, 0, err
	}
	current, err = c.GetInstantaneousCurrent()
	if err != nil {
		return 0, echonetlite.CurrentPair{}, 0, err
	}
	energy, err = c.GetCumulativeEnergy()
	if err != nil {
		return 0, echonetlite.CurrentPair{}, 0, err
	}
	return power, current, energy, nil
}
