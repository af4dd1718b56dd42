package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Task selects the estimator and state machine topology built per side.
type Task string

const (
	TaskWalking     Task = "WALKING"
	TaskStanceSwing Task = "STANCE_SWING"
	TaskFourState   Task = "FOUR_STATE"
	TaskImpedance   Task = "IMPEDANCE"
)

// Config holds every tunable of the controller. One value is loaded at
// startup, then cloned and staged by the parameter passers; the control loop
// only reads it at tick boundaries.
type Config struct {
	// Calibration. Nil until a standing calibration has been recorded.
	HipLeftZeroPosition  *float64
	HipRightZeroPosition *float64

	// Loop
	TargetFreq  float64 `validate:"gt=0,lte=1000"`
	ActpackFreq int     `validate:"gt=0,lte=1000"`
	Task        Task    `validate:"oneof=WALKING STANCE_SWING FOUR_STATE IMPEDANCE"`
	ReadOnly    bool
	DoReadSync  bool
	SyncPin     string

	// Safety
	MaxAllowableCurrent int `validate:"gte=0,lte=25000"`
	MinAllowableCurrent int `validate:"lte=0,gte=-25000"`

	// Gait state
	HSAngleFilterN      int     `validate:"gte=1,lte=8"`
	HSAngleFilterWn     float64 `validate:"gt=0,lt=1"`
	HSAngleDelay        float64 `validate:"gte=0,lte=1"`
	ToeOffFraction      float64 `validate:"gte=0,lte=1"`
	HeelStrikeFraction  float64 `validate:"gte=0,lte=1"`
	NumStridesRequired  int     `validate:"gte=1,lte=50"`
	NumStridesToAverage int     `validate:"gte=1,ltefield=NumStridesRequired"`
	MinStrideDuration   float64 `validate:"gte=0"`
	MaxStrideDuration   float64 `validate:"gtfield=MinStrideDuration"`
	SwingOnly           bool
	MaximumAngle        float64

	// Four point spline
	RiseFraction float64 `validate:"gte=0,lte=1"`
	PeakFraction float64 `validate:"gte=0,lte=1"`
	FallFraction float64 `validate:"gte=0,lte=1"`
	PeakTorque   float64 `validate:"gte=-40,lte=40"`
	SplineBias   float64
	PeakHold     float64 `validate:"gte=0,lt=0.5"` // fraction of the cycle the peak is held, 0 = none

	// Hip spline (shares PeakFraction)
	MinFraction        float64 `validate:"gte=0,lte=1"`
	FirstZero          float64 `validate:"gte=0,lte=1"`
	SecondZero         float64 `validate:"gte=0,lte=1"`
	StartTorque        float64
	FlexionMaxTorque   float64 `validate:"gte=-40,lte=40"`
	ExtensionMinTorque float64 `validate:"gte=-40,lte=40"`
	FadeDuration       float64 `validate:"gte=0"` // seconds

	// Ramp between stance and swing controllers, seconds
	TransitionDuration float64 `validate:"gt=0,lte=2"`

	// Impedance
	KVal     int     `validate:"gte=0,lte=8000"`
	BVal     int     `validate:"gte=0,lte=5500"`
	BRatio   float64 `validate:"gte=0"`
	SetPoint float64 `validate:"gte=-63,lte=86"` // deg

	PrintHS           bool
	PrintTO           bool
	ExperimenterNotes string

	// Telemetry
	DataDir               string `validate:"required"`
	MQTTBroker            string // empty disables MQTT
	MQTTClientID          string
	TopicPrefix           string
	WebServerPort         int     `validate:"gte=0,lte=65535"` // 0 disables the web monitor
	WebBroadcastHz        float64 `validate:"gte=0"`
	ConsoleEchoHz         float64 `validate:"gte=0"`
	DisplayEnabled        bool
	DisplayI2CBus         string
	DisplayUpdateInterval int `validate:"gte=0"` // milliseconds
}

// Default returns the stock configuration. Load starts from these values so a
// config file only needs the keys it changes.
func Default() *Config {
	return &Config{
		TargetFreq:  175,
		ActpackFreq: 200,
		Task:        TaskWalking,
		SyncPin:     "GPIO16",

		MaxAllowableCurrent: 17000,
		MinAllowableCurrent: -17000,

		HSAngleFilterN:      2,
		HSAngleFilterWn:     0.1,
		HSAngleDelay:        0.05,
		ToeOffFraction:      0.60,
		HeelStrikeFraction:  0.40,
		NumStridesRequired:  2,
		NumStridesToAverage: 2,
		MinStrideDuration:   0.0006,
		MaxStrideDuration:   2,
		MaximumAngle:        1,

		RiseFraction: 0.278,
		PeakFraction: 0.66,
		FallFraction: 0.641,
		PeakTorque:   30,
		SplineBias:   3,

		MinFraction:        0.12,
		FirstZero:          0.37,
		SecondZero:         0.90,
		StartTorque:        -6,
		FlexionMaxTorque:   10,
		ExtensionMinTorque: -16,
		FadeDuration:       5,
		TransitionDuration: 0.1,

		KVal:   500,
		BVal:   0,
		BRatio: 0.5,

		PrintHS:           true,
		PrintTO:           true,
		ExperimenterNotes: "Experimenter notes go here",

		DataDir:               "exo_data",
		MQTTClientID:          "hip_exo",
		TopicPrefix:           "exo",
		WebBroadcastHz:        10,
		ConsoleEchoHz:         1,
		DisplayI2CBus:         "",
		DisplayUpdateInterval: 200,
	}
}

// Load reads a KEY=VALUE configuration file on top of the defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := splitLine(line)
		if !ok {
			return nil, fmt.Errorf("%w: invalid config line %d: %q", ErrConfiguration, lineNum, line)
		}

		if err := cfg.Set(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func splitLine(line string) (string, string, bool) {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

// Set assigns one key from its text form. Unknown keys and unparseable
// values are rejected with ErrConfiguration and leave c untouched.
func (c *Config) Set(key, value string) error {
	switch key {
	// Calibration
	case "HIP_LEFT_ZERO_POSITION":
		return setOptionalFloat(&c.HipLeftZeroPosition, key, value)
	case "HIP_RIGHT_ZERO_POSITION":
		return setOptionalFloat(&c.HipRightZeroPosition, key, value)

	// Loop
	case "TARGET_FREQ":
		return setFloat(&c.TargetFreq, key, value)
	case "ACTPACK_FREQ":
		return setInt(&c.ActpackFreq, key, value)
	case "TASK":
		c.Task = Task(strings.ToUpper(value))
	case "READ_ONLY":
		return setBool(&c.ReadOnly, key, value)
	case "DO_READ_SYNC":
		return setBool(&c.DoReadSync, key, value)
	case "SYNC_PIN":
		c.SyncPin = value

	// Safety
	case "MAX_ALLOWABLE_CURRENT":
		return setInt(&c.MaxAllowableCurrent, key, value)
	case "MIN_ALLOWABLE_CURRENT":
		return setInt(&c.MinAllowableCurrent, key, value)

	// Gait state
	case "HS_ANGLE_FILTER_N":
		return setInt(&c.HSAngleFilterN, key, value)
	case "HS_ANGLE_FILTER_WN":
		return setFloat(&c.HSAngleFilterWn, key, value)
	case "HS_ANGLE_DELAY":
		return setFloat(&c.HSAngleDelay, key, value)
	case "TOE_OFF_FRACTION":
		return setFloat(&c.ToeOffFraction, key, value)
	case "HEEL_STRIKE_FRACTION":
		return setFloat(&c.HeelStrikeFraction, key, value)
	case "NUM_STRIDES_REQUIRED":
		return setInt(&c.NumStridesRequired, key, value)
	case "NUM_STRIDES_TO_AVERAGE":
		return setInt(&c.NumStridesToAverage, key, value)
	case "MIN_STRIDE_DURATION":
		return setFloat(&c.MinStrideDuration, key, value)
	case "MAX_STRIDE_DURATION":
		return setFloat(&c.MaxStrideDuration, key, value)
	case "SWING_ONLY":
		return setBool(&c.SwingOnly, key, value)
	case "MAXIMUM_ANGLE":
		return setFloat(&c.MaximumAngle, key, value)

	// Four point spline
	case "RISE_FRACTION":
		return setFloat(&c.RiseFraction, key, value)
	case "PEAK_FRACTION":
		return setFloat(&c.PeakFraction, key, value)
	case "FALL_FRACTION":
		return setFloat(&c.FallFraction, key, value)
	case "PEAK_TORQUE":
		return setFloat(&c.PeakTorque, key, value)
	case "SPLINE_BIAS":
		return setFloat(&c.SplineBias, key, value)
	case "PEAK_HOLD":
		return setFloat(&c.PeakHold, key, value)

	// Hip spline
	case "MIN_FRACTION":
		return setFloat(&c.MinFraction, key, value)
	case "FIRST_ZERO":
		return setFloat(&c.FirstZero, key, value)
	case "SECOND_ZERO":
		return setFloat(&c.SecondZero, key, value)
	case "START_TORQUE":
		return setFloat(&c.StartTorque, key, value)
	case "FLEXION_MAX_TORQUE":
		return setFloat(&c.FlexionMaxTorque, key, value)
	case "EXTENSION_MIN_TORQUE":
		return setFloat(&c.ExtensionMinTorque, key, value)
	case "SPLINE_FADE_DURATION":
		return setFloat(&c.FadeDuration, key, value)
	case "TRANSITION_DURATION":
		return setFloat(&c.TransitionDuration, key, value)

	// Impedance
	case "K_VAL":
		return setInt(&c.KVal, key, value)
	case "B_VAL":
		return setInt(&c.BVal, key, value)
	case "B_RATIO":
		return setFloat(&c.BRatio, key, value)
	case "SET_POINT":
		return setFloat(&c.SetPoint, key, value)

	case "PRINT_HS":
		return setBool(&c.PrintHS, key, value)
	case "PRINT_TO":
		return setBool(&c.PrintTO, key, value)
	case "EXPERIMENTER_NOTES":
		c.ExperimenterNotes = value

	// Telemetry
	case "DATA_DIR":
		c.DataDir = value
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_PREFIX":
		c.TopicPrefix = value
	case "WEB_SERVER_PORT":
		return setInt(&c.WebServerPort, key, value)
	case "WEB_BROADCAST_HZ":
		return setFloat(&c.WebBroadcastHz, key, value)
	case "CONSOLE_ECHO_HZ":
		return setFloat(&c.ConsoleEchoHz, key, value)
	case "DISPLAY_ENABLED":
		return setBool(&c.DisplayEnabled, key, value)
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		return setInt(&c.DisplayUpdateInterval, key, value)

	default:
		return fmt.Errorf("%w: unknown config key: %q", ErrConfiguration, key)
	}

	return nil
}

func setFloat(dst *float64, key, value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid %s %q: %v", ErrConfiguration, key, value, err)
	}
	*dst = v
	return nil
}

func setOptionalFloat(dst **float64, key, value string) error {
	if value == "" || strings.EqualFold(value, "none") {
		*dst = nil
		return nil
	}
	var v float64
	if err := setFloat(&v, key, value); err != nil {
		return err
	}
	*dst = &v
	return nil
}

func setInt(dst *int, key, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%w: invalid %s %q: %v", ErrConfiguration, key, value, err)
	}
	*dst = v
	return nil
}

func setBool(dst *bool, key, value string) error {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%w: invalid %s %q: %v", ErrConfiguration, key, value, err)
	}
	*dst = v
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks per-field ranges and the control point ordering of the
// splines the configured task actually builds.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if c.UsesFourPointSpline() {
		if !(c.RiseFraction < c.PeakFraction && c.PeakFraction < c.FallFraction) {
			return fmt.Errorf("%w: four point spline needs RISE_FRACTION < PEAK_FRACTION < FALL_FRACTION, got %g, %g, %g",
				ErrConfiguration, c.RiseFraction, c.PeakFraction, c.FallFraction)
		}
		if c.PeakHold > 0 && c.PeakFraction+c.PeakHold >= c.FallFraction {
			return fmt.Errorf("%w: PEAK_HOLD %g runs past FALL_FRACTION", ErrConfiguration, c.PeakHold)
		}
	}
	if c.UsesHipSpline() {
		if !(0 < c.MinFraction && c.MinFraction < c.FirstZero && c.FirstZero < c.PeakFraction &&
			c.PeakFraction < c.SecondZero && c.SecondZero < 1) {
			return fmt.Errorf("%w: hip spline needs 0 < MIN_FRACTION < FIRST_ZERO < PEAK_FRACTION < SECOND_ZERO < 1, got %g, %g, %g, %g",
				ErrConfiguration, c.MinFraction, c.FirstZero, c.PeakFraction, c.SecondZero)
		}
		if c.PeakHold > 0 && (c.MinFraction+c.PeakHold >= c.FirstZero || c.PeakFraction+c.PeakHold >= c.SecondZero) {
			return fmt.Errorf("%w: PEAK_HOLD %g runs past a zero crossing", ErrConfiguration, c.PeakHold)
		}
	}
	return nil
}

// UsesFourPointSpline reports whether the task builds a rise/peak/fall
// spline controller.
func (c *Config) UsesFourPointSpline() bool {
	return c.Task == TaskStanceSwing || c.Task == TaskFourState
}

// UsesHipSpline reports whether the task builds the hip flexion/extension
// spline controller.
func (c *Config) UsesHipSpline() bool {
	return c.Task == TaskWalking
}

// ZeroPosition returns the calibrated motor zero for a side ("left" or
// "right").
func (c *Config) ZeroPosition(side string) (float64, error) {
	var p *float64
	switch side {
	case "left":
		p = c.HipLeftZeroPosition
	case "right":
		p = c.HipRightZeroPosition
	default:
		return 0, fmt.Errorf("%w: unknown side %q", ErrConfiguration, side)
	}
	if p == nil {
		return 0, fmt.Errorf("%w: no zero reference recorded for %s hip, run calibration", ErrConfiguration, side)
	}
	return *p, nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	if c.HipLeftZeroPosition != nil {
		v := *c.HipLeftZeroPosition
		out.HipLeftZeroPosition = &v
	}
	if c.HipRightZeroPosition != nil {
		v := *c.HipRightZeroPosition
		out.HipRightZeroPosition = &v
	}
	return &out
}
