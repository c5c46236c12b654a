package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDPDR     string
	MQTTClientIDIMU     string
	MQTTClientIDSerial  string
	MQTTClientIDConsole string

	// Sensor topics. A blank topic means the device has no such sensor.
	TopicStepPulse   string
	TopicStepCounter string
	TopicAccel       string
	TopicRotation    string

	// PDR output
	TopicPDRState string

	// Step detection
	StepAccelThreshold float64 // m/s² above gravity
	StepDebounceMS     int     // 0 disables cross-channel debounce
	CalibrationSteps   int

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange     byte
	IMUSampleInterval int // milliseconds

	// Serial sensor board
	SensorSerialPort string
	SensorSerialBaud int

	// Web Server
	WebServerPort int
	WebStaticDir  string

	// Floor plan
	FloorPlanPath   string
	FloorPlanWidth  int
	FloorPlanHeight int

	// Track log; empty disables recording
	TrackLogPath string
}

// Keys understood in the configuration file.
const (
	keyMQTTBroker          = "MQTT_BROKER"
	keyMQTTClientIDPDR     = "MQTT_CLIENT_ID_PDR"
	keyMQTTClientIDIMU     = "MQTT_CLIENT_ID_IMU"
	keyMQTTClientIDSerial  = "MQTT_CLIENT_ID_SERIAL"
	keyMQTTClientIDConsole = "MQTT_CLIENT_ID_CONSOLE"
	keyTopicStepPulse      = "TOPIC_STEP_PULSE"
	keyTopicStepCounter    = "TOPIC_STEP_COUNTER"
	keyTopicAccel          = "TOPIC_ACCEL"
	keyTopicRotation       = "TOPIC_ROTATION"
	keyTopicPDRState       = "TOPIC_PDR_STATE"
	keyStepAccelThreshold  = "STEP_ACCEL_THRESHOLD"
	keyStepDebounceMS      = "STEP_DEBOUNCE_MS"
	keyCalibrationSteps    = "CALIBRATION_STEPS"
	keyIMUSPIDevice        = "IMU_SPI_DEVICE"
	keyIMUCSPin            = "IMU_CS_PIN"
	keyIMUAccelRange       = "IMU_ACCEL_RANGE"
	keyIMUSampleInterval   = "IMU_SAMPLE_INTERVAL"
	keySensorSerialPort    = "SENSOR_SERIAL_PORT"
	keySensorSerialBaud    = "SENSOR_SERIAL_BAUD"
	keyWebServerPort       = "WEB_SERVER_PORT"
	keyWebStaticDir        = "WEB_STATIC_DIR"
	keyFloorPlanPath       = "FLOORPLAN_PATH"
	keyFloorPlanWidth      = "FLOORPLAN_WIDTH"
	keyFloorPlanHeight     = "FLOORPLAN_HEIGHT"
	keyTrackLogPath        = "TRACKLOG_PATH"
)

var defaults = map[string]interface{}{
	keyMQTTClientIDPDR:     "pdr-service",
	keyMQTTClientIDIMU:     "pdr-imu-producer",
	keyMQTTClientIDSerial:  "pdr-serial-producer",
	keyMQTTClientIDConsole: "pdr-console",
	keyTopicStepPulse:      "pdr/sensor/step_pulse",
	keyTopicStepCounter:    "pdr/sensor/step_counter",
	keyTopicAccel:          "pdr/sensor/accel",
	keyTopicRotation:       "pdr/sensor/rotation",
	keyTopicPDRState:       "pdr/state",
	keyStepAccelThreshold:  1.2,
	keyStepDebounceMS:      0,
	keyCalibrationSteps:    5,
	keyIMUSPIDevice:        "/dev/spidev6.0",
	keyIMUCSPin:            "18",
	keyIMUAccelRange:       0,
	keyIMUSampleInterval:   20,
	keySensorSerialPort:    "/dev/serial0",
	keySensorSerialBaud:    115200,
	keyWebServerPort:       8080,
	keyWebStaticDir:        "web",
	keyFloorPlanPath:       "",
	keyFloorPlanWidth:      800,
	keyFloorPlanHeight:     1200,
	keyTrackLogPath:        "",
}

// Package-level unexported singleton; use InitGlobal to set and Get to read.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads a KEY=VALUE configuration file and returns a Config struct.
// Values may be overridden from the environment with a PDR_ prefix,
// e.g. PDR_MQTT_BROKER.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("env")
	v.SetEnvPrefix("PDR")
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := checkKeys(v); err != nil {
		return nil, err
	}
	if r := v.GetInt(keyIMUAccelRange); r < 0 || r > 3 {
		return nil, fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", r)
	}

	cfg := fromViper(v)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkKeys rejects keys we do not understand, usually typos.
func checkKeys(v *viper.Viper) error {
	known := make(map[string]bool, len(defaults)+1)
	for key := range defaults {
		known[strings.ToLower(key)] = true
	}
	known[strings.ToLower(keyMQTTBroker)] = true

	var unknown []string
	for _, key := range v.AllKeys() {
		if !known[key] {
			unknown = append(unknown, strings.ToUpper(key))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown config key: %q", unknown[0])
	}
	return nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		MQTTBroker:          v.GetString(keyMQTTBroker),
		MQTTClientIDPDR:     v.GetString(keyMQTTClientIDPDR),
		MQTTClientIDIMU:     v.GetString(keyMQTTClientIDIMU),
		MQTTClientIDSerial:  v.GetString(keyMQTTClientIDSerial),
		MQTTClientIDConsole: v.GetString(keyMQTTClientIDConsole),

		TopicStepPulse:   v.GetString(keyTopicStepPulse),
		TopicStepCounter: v.GetString(keyTopicStepCounter),
		TopicAccel:       v.GetString(keyTopicAccel),
		TopicRotation:    v.GetString(keyTopicRotation),
		TopicPDRState:    v.GetString(keyTopicPDRState),

		StepAccelThreshold: v.GetFloat64(keyStepAccelThreshold),
		StepDebounceMS:     v.GetInt(keyStepDebounceMS),
		CalibrationSteps:   v.GetInt(keyCalibrationSteps),

		IMUSPIDevice:      v.GetString(keyIMUSPIDevice),
		IMUCSPin:          v.GetString(keyIMUCSPin),
		IMUAccelRange:     byte(v.GetInt(keyIMUAccelRange)),
		IMUSampleInterval: v.GetInt(keyIMUSampleInterval),

		SensorSerialPort: v.GetString(keySensorSerialPort),
		SensorSerialBaud: v.GetInt(keySensorSerialBaud),

		WebServerPort: v.GetInt(keyWebServerPort),
		WebStaticDir:  v.GetString(keyWebStaticDir),

		FloorPlanPath:   v.GetString(keyFloorPlanPath),
		FloorPlanWidth:  v.GetInt(keyFloorPlanWidth),
		FloorPlanHeight: v.GetInt(keyFloorPlanHeight),

		TrackLogPath: v.GetString(keyTrackLogPath),
	}
}

// validate checks required fields and ranges.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicPDRState == "" {
		return fmt.Errorf("TOPIC_PDR_STATE is required")
	}
	if c.StepAccelThreshold <= 0 {
		return fmt.Errorf("STEP_ACCEL_THRESHOLD must be positive, got %v", c.StepAccelThreshold)
	}
	if c.StepDebounceMS < 0 {
		return fmt.Errorf("STEP_DEBOUNCE_MS must not be negative, got %d", c.StepDebounceMS)
	}
	if c.CalibrationSteps < 1 {
		return fmt.Errorf("CALIBRATION_STEPS must be at least 1, got %d", c.CalibrationSteps)
	}
	if c.IMUSampleInterval <= 0 {
		return fmt.Errorf("IMU_SAMPLE_INTERVAL must be positive, got %d", c.IMUSampleInterval)
	}
	if c.SensorSerialBaud <= 0 {
		return fmt.Errorf("SENSOR_SERIAL_BAUD must be positive, got %d", c.SensorSerialBaud)
	}
	if c.WebServerPort < 1 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", c.WebServerPort)
	}
	if c.FloorPlanWidth <= 0 || c.FloorPlanHeight <= 0 {
		return fmt.Errorf("FLOORPLAN_WIDTH and FLOORPLAN_HEIGHT must be positive, got %dx%d", c.FloorPlanWidth, c.FloorPlanHeight)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads; later calls return the first result.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
