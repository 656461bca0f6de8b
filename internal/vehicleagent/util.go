package vehicleagent

import (
	"os"
	"strings"

	"github.com/barnapet/smartdrive/pkg/log"
)

const (
	vinEnv  = "SMARTDRIVE_VIN"
	vinFile = "/etc/smartdrive/vin"
)

// DiscoverVIN reads the VIN provisioned for this device: the SMARTDRIVE_VIN
// environment variable first, then /etc/smartdrive/vin. It returns "" when
// neither is set.
func DiscoverVIN() string {
	return discoverVIN(os.Getenv, vinFile)
}

func discoverVIN(getenv func(string) string, path string) string {
	if vin := strings.TrimSpace(getenv(vinEnv)); vin != "" {
		log.Info("VIN detected from env", "vin", vin)
		return vin
	}

	if content, err := os.ReadFile(path); err == nil {
		if vin := strings.TrimSpace(string(content)); vin != "" {
			log.Info("VIN detected from file", "vin", vin, "path", path)
			return vin
		}
	}

	return ""
}
