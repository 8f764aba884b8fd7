package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration values for the service.
type Config struct {
	HTTPPort  int
	SQLiteDSN string
	// DataDir holds per-user position cache documents.
	DataDir string
	// MachineSecret pins credential encryption to this host. Empty means
	// derive one from the machine identity.
	MachineSecret string
	// VendorURL is the base URL of the desk reservation site.
	VendorURL   string
	HorizonDays int
	Headless    bool
	// OperationTimeout bounds each browser operation.
	OperationTimeout time.Duration
	ViewportWidth    int
	ViewportHeight   int
}

// Load parses configuration values from the current process environment.
//
// The loader applies sensible defaults for optional fields while validating
// required values and reporting every missing or invalid entry at once.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:         8080,
		SQLiteDSN:        "deskbot.db",
		DataDir:          "data",
		HorizonDays:      29,
		Headless:         true,
		OperationTimeout: 30 * time.Second,
		ViewportWidth:    1920,
		ViewportHeight:   1080,
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if portValue := strings.TrimSpace(os.Getenv("DESKBOT_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "DESKBOT_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("DESKBOT_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if dir := strings.TrimSpace(os.Getenv("DESKBOT_DATA_DIR")); dir != "" {
		cfg.DataDir = dir
	}

	cfg.MachineSecret = strings.TrimSpace(os.Getenv("DESKBOT_MACHINE_SECRET"))

	if url := strings.TrimSpace(os.Getenv("DESKBOT_VENDOR_URL")); url == "" {
		missing = append(missing, "DESKBOT_VENDOR_URL")
	} else {
		cfg.VendorURL = url
	}

	if horizonValue := strings.TrimSpace(os.Getenv("DESKBOT_HORIZON_DAYS")); horizonValue != "" {
		horizon, err := strconv.Atoi(horizonValue)
		if err != nil || horizon <= 0 {
			invalid = append(invalid, "DESKBOT_HORIZON_DAYS")
		} else {
			cfg.HorizonDays = horizon
		}
	}

	if headlessValue := strings.TrimSpace(os.Getenv("DESKBOT_HEADLESS")); headlessValue != "" {
		headless, err := strconv.ParseBool(headlessValue)
		if err != nil {
			invalid = append(invalid, "DESKBOT_HEADLESS")
		} else {
			cfg.Headless = headless
		}
	}

	if timeoutValue := strings.TrimSpace(os.Getenv("DESKBOT_OPERATION_TIMEOUT")); timeoutValue != "" {
		timeout, err := time.ParseDuration(timeoutValue)
		if err != nil || timeout <= 0 {
			invalid = append(invalid, "DESKBOT_OPERATION_TIMEOUT")
		} else {
			cfg.OperationTimeout = timeout
		}
	}

	if widthValue := strings.TrimSpace(os.Getenv("DESKBOT_VIEWPORT_WIDTH")); widthValue != "" {
		width, err := strconv.Atoi(widthValue)
		if err != nil || width <= 0 {
			invalid = append(invalid, "DESKBOT_VIEWPORT_WIDTH")
		} else {
			cfg.ViewportWidth = width
		}
	}

	if heightValue := strings.TrimSpace(os.Getenv("DESKBOT_VIEWPORT_HEIGHT")); heightValue != "" {
		height, err := strconv.Atoi(heightValue)
		if err != nil || height <= 0 {
			invalid = append(invalid, "DESKBOT_VIEWPORT_HEIGHT")
		} else {
			cfg.ViewportHeight = height
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
