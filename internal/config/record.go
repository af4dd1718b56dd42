package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// keys is the column order of config rows and of saved files.
var keys = []string{
	"HIP_LEFT_ZERO_POSITION", "HIP_RIGHT_ZERO_POSITION",
	"TARGET_FREQ", "ACTPACK_FREQ", "TASK", "READ_ONLY", "DO_READ_SYNC", "SYNC_PIN",
	"MAX_ALLOWABLE_CURRENT", "MIN_ALLOWABLE_CURRENT",
	"HS_ANGLE_FILTER_N", "HS_ANGLE_FILTER_WN", "HS_ANGLE_DELAY", "TOE_OFF_FRACTION",
	"HEEL_STRIKE_FRACTION", "NUM_STRIDES_REQUIRED", "NUM_STRIDES_TO_AVERAGE",
	"MIN_STRIDE_DURATION", "MAX_STRIDE_DURATION", "SWING_ONLY", "MAXIMUM_ANGLE",
	"RISE_FRACTION", "PEAK_FRACTION", "FALL_FRACTION", "PEAK_TORQUE", "SPLINE_BIAS", "PEAK_HOLD",
	"MIN_FRACTION", "FIRST_ZERO", "SECOND_ZERO", "START_TORQUE", "FLEXION_MAX_TORQUE",
	"EXTENSION_MIN_TORQUE", "SPLINE_FADE_DURATION", "TRANSITION_DURATION",
	"K_VAL", "B_VAL", "B_RATIO", "SET_POINT",
	"PRINT_HS", "PRINT_TO", "EXPERIMENTER_NOTES",
	"DATA_DIR", "MQTT_BROKER", "MQTT_CLIENT_ID", "TOPIC_PREFIX", "WEB_SERVER_PORT",
	"WEB_BROADCAST_HZ", "CONSOLE_ECHO_HZ", "DISPLAY_ENABLED", "DISPLAY_I2C_BUS",
	"DISPLAY_UPDATE_INTERVAL",
}

// Keys returns every config key in row order.
func Keys() []string {
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// Get returns the text form of one key, as Set would accept it.
func (c *Config) Get(key string) (string, bool) {
	switch key {
	case "HIP_LEFT_ZERO_POSITION":
		return formatOptional(c.HipLeftZeroPosition), true
	case "HIP_RIGHT_ZERO_POSITION":
		return formatOptional(c.HipRightZeroPosition), true
	case "TARGET_FREQ":
		return formatFloat(c.TargetFreq), true
	case "ACTPACK_FREQ":
		return strconv.Itoa(c.ActpackFreq), true
	case "TASK":
		return string(c.Task), true
	case "READ_ONLY":
		return strconv.FormatBool(c.ReadOnly), true
	case "DO_READ_SYNC":
		return strconv.FormatBool(c.DoReadSync), true
	case "SYNC_PIN":
		return c.SyncPin, true
	case "MAX_ALLOWABLE_CURRENT":
		return strconv.Itoa(c.MaxAllowableCurrent), true
	case "MIN_ALLOWABLE_CURRENT":
		return strconv.Itoa(c.MinAllowableCurrent), true
	case "HS_ANGLE_FILTER_N":
		return strconv.Itoa(c.HSAngleFilterN), true
	case "HS_ANGLE_FILTER_WN":
		return formatFloat(c.HSAngleFilterWn), true
	case "HS_ANGLE_DELAY":
		return formatFloat(c.HSAngleDelay), true
	case "TOE_OFF_FRACTION":
		return formatFloat(c.ToeOffFraction), true
	case "HEEL_STRIKE_FRACTION":
		return formatFloat(c.HeelStrikeFraction), true
	case "NUM_STRIDES_REQUIRED":
		return strconv.Itoa(c.NumStridesRequired), true
	case "NUM_STRIDES_TO_AVERAGE":
		return strconv.Itoa(c.NumStridesToAverage), true
	case "MIN_STRIDE_DURATION":
		return formatFloat(c.MinStrideDuration), true
	case "MAX_STRIDE_DURATION":
		return formatFloat(c.MaxStrideDuration), true
	case "SWING_ONLY":
		return strconv.FormatBool(c.SwingOnly), true
	case "MAXIMUM_ANGLE":
		return formatFloat(c.MaximumAngle), true
	case "RISE_FRACTION":
		return formatFloat(c.RiseFraction), true
	case "PEAK_FRACTION":
		return formatFloat(c.PeakFraction), true
	case "FALL_FRACTION":
		return formatFloat(c.FallFraction), true
	case "PEAK_TORQUE":
		return formatFloat(c.PeakTorque), true
	case "SPLINE_BIAS":
		return formatFloat(c.SplineBias), true
	case "PEAK_HOLD":
		return formatFloat(c.PeakHold), true
	case "MIN_FRACTION":
		return formatFloat(c.MinFraction), true
	case "FIRST_ZERO":
		return formatFloat(c.FirstZero), true
	case "SECOND_ZERO":
		return formatFloat(c.SecondZero), true
	case "START_TORQUE":
		return formatFloat(c.StartTorque), true
	case "FLEXION_MAX_TORQUE":
		return formatFloat(c.FlexionMaxTorque), true
	case "EXTENSION_MIN_TORQUE":
		return formatFloat(c.ExtensionMinTorque), true
	case "SPLINE_FADE_DURATION":
		return formatFloat(c.FadeDuration), true
	case "TRANSITION_DURATION":
		return formatFloat(c.TransitionDuration), true
	case "K_VAL":
		return strconv.Itoa(c.KVal), true
	case "B_VAL":
		return strconv.Itoa(c.BVal), true
	case "B_RATIO":
		return formatFloat(c.BRatio), true
	case "SET_POINT":
		return formatFloat(c.SetPoint), true
	case "PRINT_HS":
		return strconv.FormatBool(c.PrintHS), true
	case "PRINT_TO":
		return strconv.FormatBool(c.PrintTO), true
	case "EXPERIMENTER_NOTES":
		return c.ExperimenterNotes, true
	case "DATA_DIR":
		return c.DataDir, true
	case "MQTT_BROKER":
		return c.MQTTBroker, true
	case "MQTT_CLIENT_ID":
		return c.MQTTClientID, true
	case "TOPIC_PREFIX":
		return c.TopicPrefix, true
	case "WEB_SERVER_PORT":
		return strconv.Itoa(c.WebServerPort), true
	case "WEB_BROADCAST_HZ":
		return formatFloat(c.WebBroadcastHz), true
	case "CONSOLE_ECHO_HZ":
		return formatFloat(c.ConsoleEchoHz), true
	case "DISPLAY_ENABLED":
		return strconv.FormatBool(c.DisplayEnabled), true
	case "DISPLAY_I2C_BUS":
		return c.DisplayI2CBus, true
	case "DISPLAY_UPDATE_INTERVAL":
		return strconv.Itoa(c.DisplayUpdateInterval), true
	}
	return "", false
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return "None"
	}
	return formatFloat(*v)
}

// Columns and Values make a Config usable as a telemetry row.
func (c *Config) Columns() []string { return Keys() }

func (c *Config) Values() []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i], _ = c.Get(k)
	}
	return out
}

// Save writes the full config as KEY=VALUE lines.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# hip exo configuration")
	for _, k := range keys {
		v, _ := c.Get(k)
		fmt.Fprintf(w, "%s=%s\n", k, v)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}

// UpdateFile rewrites the given keys in an existing config file in place,
// keeping comments and the order of the other lines. Keys not yet present
// are appended.
func UpdateFile(path string, updates map[string]string) error {
	for k, v := range updates {
		if err := Default().Set(k, v); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var lines []string
	if len(data) > 0 {
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	}
	done := make(map[string]bool, len(updates))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, _, ok := splitLine(trimmed)
		if !ok {
			continue
		}
		if v, found := updates[key]; found {
			lines[i] = key + "=" + v
			done[key] = true
		}
	}
	for _, k := range keys {
		if v, found := updates[k]; found && !done[k] {
			lines = append(lines, k+"="+v)
		}
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}
