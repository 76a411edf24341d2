// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/room-coordinator/pkg/sfu/audio"
)

const (
	generatedCLIFlagUsage = "generated"
	envPrefix             = "ROOMCOORD_"
)

var (
	ErrInvalidActiveThreshold = errors.New("audio.active_threshold must be within 0..1")
	ErrInvalidQueueSize       = errors.New("room.subscriber_queue_size must be positive")
)

type Config struct {
	Port           uint32        `yaml:"port,omitempty"`
	BindAddresses  []string      `yaml:"bind_addresses,omitempty"`
	PrometheusPort uint32        `yaml:"prometheus_port,omitempty"`
	Audio          AudioConfig   `yaml:"audio,omitempty"`
	Room           RoomConfig    `yaml:"room,omitempty"`
	WebHook        WebHookConfig `yaml:"webhook,omitempty"`
	Logging        LoggingConfig `yaml:"logging,omitempty"`

	Development bool `yaml:"development,omitempty"`
}

type AudioConfig struct {
	// minimum level to be considered active, 0-127 -dBov, where 0 is loudest
	ActiveLevel uint8 `yaml:"active_level,omitempty"`
	// linear threshold, 0..1. a participant is speaking while its level is above it.
	// 0 derives the threshold from ActiveLevel
	ActiveThreshold float64 `yaml:"active_threshold,omitempty"`
	// percentile of an observe window that must be active, for -dBov level streams
	MinPercentile uint8 `yaml:"min_percentile,omitempty"`
	// observe window for -dBov level streams, in ms
	ObserveDuration uint32 `yaml:"observe_duration,omitempty"`
	// smoothing for reported levels, average of `smooth_intervals`, 0 to disable
	SmoothIntervals uint32 `yaml:"smooth_intervals,omitempty"`
	// interval of the silence sweep, in ms
	UpdateInterval uint32 `yaml:"update_interval,omitempty"`
	// a participant with no level report for this long is treated as silent, 0 to disable
	SilenceTimeout time.Duration `yaml:"silence_timeout,omitempty"`
}

func (a AudioConfig) Threshold() float64 {
	if a.ActiveThreshold > 0 {
		return a.ActiveThreshold
	}
	return audio.ConvertAudioLevel(float64(a.ActiveLevel))
}

type RoomConfig struct {
	// enable rooms to be automatically created on first transport connection
	AutoCreate      bool   `yaml:"auto_create,omitempty"`
	MaxParticipants uint32 `yaml:"max_participants,omitempty"`
	// bound on each subscriber's pending notifications, oldest are dropped beyond it
	SubscriberQueueSize int `yaml:"subscriber_queue_size,omitempty"`
	// number of departed participant ids remembered to detect late events
	DepartedCacheSize int `yaml:"departed_cache_size,omitempty"`
	// add camera placeholders for participants without a camera track
	CameraPlaceholders bool `yaml:"camera_placeholders,omitempty"`
}

type WebHookConfig struct {
	URLs []string `yaml:"urls,omitempty"`
	// timeout for each webhook request
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
}

var DefaultConfig = Config{
	Port:           7880,
	PrometheusPort: 0,
	Audio: AudioConfig{
		ActiveLevel:     35, // -35dBov
		MinPercentile:   40,
		ObserveDuration: 500,
		SmoothIntervals: 0,
		UpdateInterval:  400,
		SilenceTimeout:  3 * time.Second,
	},
	Room: RoomConfig{
		AutoCreate:          true,
		SubscriberQueueSize: 64,
		DepartedCacheSize:   1024,
		CameraPlaceholders:  true,
	},
	WebHook: WebHookConfig{
		Timeout: 5 * time.Second,
	},
}

func NewConfig(confString string, strictMode bool, c *cli.Context, baseFlags []cli.Flag) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	err = yaml.Unmarshal(marshalled, &conf)
	if err != nil {
		return nil, err
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c, baseFlags); err != nil {
			return nil, err
		}
	}

	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func (conf *Config) Validate() error {
	if conf.Audio.ActiveThreshold < 0 || conf.Audio.ActiveThreshold > 1 {
		return ErrInvalidActiveThreshold
	}
	if conf.Room.SubscriberQueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	return nil
}

type configNode struct {
	TypeNode  reflect.Value
	TagPrefix string
}

func (conf *Config) ToCLIFlagNames(existingFlags []cli.Flag) map[string]reflect.Value {
	existingFlagNames := map[string]bool{}
	for _, flag := range existingFlags {
		for _, flagName := range flag.Names() {
			existingFlagNames[flagName] = true
		}
	}

	flagNames := map[string]reflect.Value{}
	var currNode configNode
	nodes := []configNode{{reflect.ValueOf(conf).Elem(), ""}}
	for len(nodes) > 0 {
		currNode, nodes = nodes[0], nodes[1:]
		for i := 0; i < currNode.TypeNode.NumField(); i++ {
			// inspect yaml tag from struct field to get path
			field := currNode.TypeNode.Type().Field(i)
			yamlTagArray := strings.SplitN(field.Tag.Get("yaml"), ",", 2)
			yamlTag := yamlTagArray[0]
			isInline := len(yamlTagArray) > 1 && yamlTagArray[1] == "inline"
			if (yamlTag == "" && (!isInline || currNode.TagPrefix == "")) || yamlTag == "-" {
				continue
			}
			yamlPath := yamlTag
			if currNode.TagPrefix != "" {
				if isInline {
					yamlPath = currNode.TagPrefix
				} else {
					yamlPath = fmt.Sprintf("%s.%s", currNode.TagPrefix, yamlTag)
				}
			}
			if existingFlagNames[yamlPath] {
				continue
			}

			// map flag name to value
			value := currNode.TypeNode.Field(i)
			if value.Kind() == reflect.Struct {
				nodes = append(nodes, configNode{value, yamlPath})
			} else {
				flagNames[yamlPath] = value
			}
		}
	}

	return flagNames
}

func GenerateCLIFlags(existingFlags []cli.Flag, hidden bool) ([]cli.Flag, error) {
	blankConfig := &Config{}
	flags := make([]cli.Flag, 0)
	for name, value := range blankConfig.ToCLIFlagNames(existingFlags) {
		kind := value.Kind()
		if kind == reflect.Ptr {
			kind = value.Type().Elem().Kind()
		}

		var flag cli.Flag
		envVar := envPrefix + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))

		switch kind {
		case reflect.Bool:
			flag = &cli.BoolFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.String:
			flag = &cli.StringFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int, reflect.Int32:
			flag = &cli.IntFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int64:
			if value.Type() == reflect.TypeOf(time.Duration(0)) {
				flag = &cli.DurationFlag{
					Name:    name,
					EnvVars: []string{envVar},
					Usage:   generatedCLIFlagUsage,
					Hidden:  hidden,
				}
			} else {
				flag = &cli.Int64Flag{
					Name:    name,
					EnvVars: []string{envVar},
					Usage:   generatedCLIFlagUsage,
					Hidden:  hidden,
				}
			}
		case reflect.Uint8, reflect.Uint16, reflect.Uint32:
			flag = &cli.UintFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint64:
			flag = &cli.Uint64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Float32, reflect.Float64:
			flag = &cli.Float64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Slice:
			if value.Type().Elem().Kind() != reflect.String {
				continue
			}
			flag = &cli.StringSliceFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Map, reflect.Struct:
			continue
		default:
			return flags, fmt.Errorf("cli flag generation unsupported for config type: %s is a %s", name, kind.String())
		}

		flags = append(flags, flag)
	}

	return flags, nil
}

func (conf *Config) updateFromCLI(c *cli.Context, baseFlags []cli.Flag) error {
	generatedFlagNames := conf.ToCLIFlagNames(baseFlags)
	for _, flag := range c.App.Flags {
		flagName := flag.Names()[0]

		// the `c.App.Name != "test"` check is needed because `c.IsSet(...)` is always false in unit tests
		if !c.IsSet(flagName) && c.App.Name != "test" {
			continue
		}

		configValue, ok := generatedFlagNames[flagName]
		if !ok {
			continue
		}

		kind := configValue.Kind()
		if kind == reflect.Ptr {
			// instantiate value to be set
			configValue.Set(reflect.New(configValue.Type().Elem()))

			kind = configValue.Type().Elem().Kind()
			configValue = configValue.Elem()
		}

		switch kind {
		case reflect.Bool:
			configValue.SetBool(c.Bool(flagName))
		case reflect.String:
			configValue.SetString(c.String(flagName))
		case reflect.Int, reflect.Int32:
			configValue.SetInt(int64(c.Int(flagName)))
		case reflect.Int64:
			if configValue.Type() == reflect.TypeOf(time.Duration(0)) {
				configValue.SetInt(int64(c.Duration(flagName)))
			} else {
				configValue.SetInt(c.Int64(flagName))
			}
		case reflect.Uint8, reflect.Uint16, reflect.Uint32:
			configValue.SetUint(uint64(c.Uint(flagName)))
		case reflect.Uint64:
			configValue.SetUint(c.Uint64(flagName))
		case reflect.Float32, reflect.Float64:
			configValue.SetFloat(c.Float64(flagName))
		case reflect.Slice:
			configValue.Set(reflect.ValueOf(c.StringSlice(flagName)))
		default:
			return fmt.Errorf("unsupported generated cli flag type for config: %s is a %s", flagName, kind.String())
		}
	}

	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("bind") {
		conf.BindAddresses = c.StringSlice("bind")
	}
	if c.IsSet("port") {
		conf.Port = uint32(c.Uint("port"))
	}
	return nil
}

// GetConfigString returns the inline config body if set, otherwise the contents of configFile
func GetConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	path, err := homedir.Expand(os.ExpandEnv(configFile))
	if err != nil {
		return "", err
	}

	outConfigBody, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "could not read config file %s", path)
	}

	return string(outConfigBody), nil
}

func InitLoggerFromConfig(config *LoggingConfig) {
	logger.InitFromConfig(config.Config, "roomcoord")
}
