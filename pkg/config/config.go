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

	"github.com/livekit/dynascale/pkg/session"
)

const (
	generatedCLIFlagUsage = "generated"
	envVarPrefix          = "DYNASCALE"
)

var (
	ErrInvalidWorkers   = errors.New("reconciler.workers must be at least 1")
	ErrInvalidDebounce  = errors.New("dispatcher debounce durations cannot be negative")
	ErrSignalURLNotSet  = errors.New("signal.url must be provided")
	ErrScenarioNotFound = errors.New("scenario file does not exist")

	durationType = reflect.TypeOf(time.Duration(0))
)

type Config struct {
	Port           uint32                 `yaml:"port,omitempty"`
	BindAddresses  []string               `yaml:"bind_addresses,omitempty"`
	PrometheusPort uint32                 `yaml:"prometheus_port,omitempty"`
	NodeID         string                 `yaml:"node_id,omitempty"`
	Reconciler     ReconcilerConfig       `yaml:"reconciler,omitempty"`
	Dispatcher     session.DebounceConfig `yaml:"dispatcher,omitempty"`
	Signal         SignalConfig           `yaml:"signal,omitempty"`
	Logging        LoggingConfig          `yaml:"logging,omitempty"`

	Development bool `yaml:"development,omitempty"`
}

type ReconcilerConfig struct {
	// Workers is the number of independent reconcilers, TrackRefs are spread over them by hash.
	Workers   int    `yaml:"workers,omitempty"`
	QueueSize uint32 `yaml:"queue_size,omitempty"`
}

type SignalConfig struct {
	URL               string        `yaml:"url,omitempty"`
	Token             string        `yaml:"token,omitempty"`
	WriteTimeout      time.Duration `yaml:"write_timeout,omitempty"`
	ReconnectAttempts int           `yaml:"reconnect_attempts,omitempty"`
	ReconnectBackoff  time.Duration `yaml:"reconnect_backoff,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
}

var DefaultConfig = Config{
	Port: 7890,
	Reconciler: ReconcilerConfig{
		Workers:   1,
		QueueSize: 64,
	},
	Dispatcher: session.DefaultDebounceConfig,
	Signal: SignalConfig{
		WriteTimeout:      5 * time.Second,
		ReconnectAttempts: 5,
		ReconnectBackoff:  500 * time.Millisecond,
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

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}

	return &conf, nil
}

func (conf *Config) Validate() error {
	if conf.Reconciler.Workers < 1 {
		return ErrInvalidWorkers
	}
	d := conf.Dispatcher
	if d.Immediate < 0 || d.Fast < 0 || d.Medium < 0 || d.Slow < 0 {
		return ErrInvalidDebounce
	}
	return nil
}

// ValidateSignal checks what is needed to connect to an SFU.
func (conf *Config) ValidateSignal() error {
	if conf.Signal.URL == "" {
		return ErrSignalURLNotSet
	}
	return nil
}

// ExpandPath resolves env vars and ~ in a file path taken from the config or command line.
func ExpandPath(path string) (string, error) {
	file, err := homedir.Expand(os.ExpandEnv(path))
	if err != nil {
		return "", errors.Wrapf(err, "could not expand %q", path)
	}
	return file, nil
}

// LoadScenarioFile reads a replay scenario from disk.
func LoadScenarioFile(path string) ([]byte, error) {
	file, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrScenarioNotFound, file)
	}
	return content, err
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
		envVar := fmt.Sprintf("%s_%s", envVarPrefix, strings.ToUpper(strings.ReplaceAll(name, ".", "_")))

		if value.Type() == durationType {
			flags = append(flags, &cli.DurationFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			})
			continue
		}

		kind := value.Kind()
		if kind == reflect.Ptr {
			kind = value.Type().Elem().Kind()
		}

		var flag cli.Flag
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
			flag = &cli.Int64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
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
		case reflect.Slice, reflect.Map, reflect.Struct:
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

		if configValue.Type() == durationType {
			configValue.SetInt(int64(c.Duration(flagName)))
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
		case reflect.Int, reflect.Int32, reflect.Int64:
			configValue.SetInt(c.Int64(flagName))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			configValue.SetUint(c.Uint64(flagName))
		case reflect.Float32, reflect.Float64:
			configValue.SetFloat(c.Float64(flagName))
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
	if c.IsSet("signal-url") {
		conf.Signal.URL = c.String("signal-url")
	}
	if c.IsSet("token") {
		conf.Signal.Token = c.String("token")
	}
	if c.IsSet("workers") {
		conf.Reconciler.Workers = c.Int("workers")
	}
	return nil
}

func InitLoggerFromConfig(config *LoggingConfig) {
	logger.InitFromConfig(config.Config, "dynascale")
}
