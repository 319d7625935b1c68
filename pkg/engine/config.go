package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Dataset splits.
const (
	SplitTrain                 = "train"
	SplitEvalInDistribution    = "eval_in_distribution"
	SplitEvalOutOfDistribution = "eval_out_of_distribution"

	DefaultSplit = SplitEvalOutOfDistribution
)

// DataRootEnv names the environment variable holding the dataset root.
const DataRootEnv = "ALFWORLD_DATA"

// ErrInvalidSplit indicates a split name the engine does not know.
var ErrInvalidSplit = errors.New("invalid split")

// Config is the engine configuration. Sections the bridge does not interpret
// are preserved in the Extra maps so that they reach the engine unchanged.
type Config struct {
	Dataset    DatasetConfig  `yaml:"dataset"`
	Logic      LogicConfig    `yaml:"logic"`
	Env        EnvConfig      `yaml:"env"`
	Controller map[string]any `yaml:"controller,omitempty"`
	General    GeneralConfig  `yaml:"general"`
	Dagger     DaggerConfig   `yaml:"dagger"`
	Extra      map[string]any `yaml:",inline"`
}

// DatasetConfig locates the game definitions of each split.
type DatasetConfig struct {
	DataPath        string         `yaml:"data_path"`
	EvalIDDataPath  string         `yaml:"eval_id_data_path"`
	EvalOODDataPath string         `yaml:"eval_ood_data_path"`
	NumTrainGames   int            `yaml:"num_train_games"`
	NumEvalGames    int            `yaml:"num_eval_games"`
	Extra           map[string]any `yaml:",inline"`
}

// LogicConfig locates the PDDL domain and text grammar.
type LogicConfig struct {
	Domain  string         `yaml:"domain"`
	Grammar string         `yaml:"grammar"`
	Extra   map[string]any `yaml:",inline"`
}

// EnvConfig selects the environment flavour and task families.
type EnvConfig struct {
	Type                  string         `yaml:"type"`
	RegenGameFiles        bool           `yaml:"regen_game_files"`
	DomainRandomization   bool           `yaml:"domain_randomization"`
	TaskTypes             []int          `yaml:"task_types"`
	GoalDescHumanAnnsProb float64        `yaml:"goal_desc_human_anns_prob"`
	ExpertType            string         `yaml:"expert_type"`
	Extra                 map[string]any `yaml:",inline"`
}

// GeneralConfig holds run-wide settings.
type GeneralConfig struct {
	RandomSeed     int            `yaml:"random_seed"`
	TrainingMethod string         `yaml:"training_method"`
	Extra          map[string]any `yaml:",inline"`
}

// DaggerConfig holds the episode budget used by the step limit layer.
type DaggerConfig struct {
	Training DaggerTrainingConfig `yaml:"training"`
	Extra    map[string]any       `yaml:",inline"`
}

// DaggerTrainingConfig bounds episode length.
type DaggerTrainingConfig struct {
	MaxStepsPerEpisode int            `yaml:"max_nb_steps_per_episode"`
	Extra              map[string]any `yaml:",inline"`
}

// DefaultDataRoot returns $ALFWORLD_DATA, falling back to ~/.cache/alfworld.
func DefaultDataRoot() string {
	if root := os.Getenv(DataRootEnv); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cache", "alfworld")
	}
	return filepath.Join(home, ".cache", "alfworld")
}

// DefaultConfig synthesizes a minimal configuration rooted at dataRoot with
// the dataset paths of every split filled in.
func DefaultConfig(dataRoot string) *Config {
	return &Config{
		Dataset: DatasetConfig{
			DataPath:        filepath.Join(dataRoot, "json_2.1.1", "train"),
			EvalIDDataPath:  filepath.Join(dataRoot, "json_2.1.1", "valid_seen"),
			EvalOODDataPath: filepath.Join(dataRoot, "json_2.1.1", "valid_unseen"),
			NumTrainGames:   -1,
			NumEvalGames:    -1,
		},
		Logic: LogicConfig{
			Domain:  filepath.Join(dataRoot, "logic", "alfred.pddl"),
			Grammar: filepath.Join(dataRoot, "logic", "alfred.twl2"),
		},
		Env: EnvConfig{
			Type:                  "AlfredTWEnv",
			RegenGameFiles:        false,
			DomainRandomization:   false,
			TaskTypes:             []int{1, 2, 3, 4, 5, 6},
			GoalDescHumanAnnsProb: 0,
			ExpertType:            "handcoded",
		},
		Controller: map[string]any{
			"type":  "oracle",
			"debug": false,
		},
		General: GeneralConfig{
			RandomSeed:     42,
			TrainingMethod: "dagger",
		},
		Dagger: DaggerConfig{
			Training: DaggerTrainingConfig{MaxStepsPerEpisode: 50},
		},
	}
}

// LoadConfig reads a YAML engine configuration. Relative dataset paths are
// resolved against dataRoot.
func LoadConfig(path, dataRoot string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	for _, p := range []*string{&cfg.Dataset.DataPath, &cfg.Dataset.EvalIDDataPath, &cfg.Dataset.EvalOODDataPath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dataRoot, *p)
		}
	}

	return &cfg, nil
}

// ValidSplit reports whether split names a known dataset split.
func ValidSplit(split string) bool {
	switch split {
	case SplitTrain, SplitEvalInDistribution, SplitEvalOutOfDistribution:
		return true
	}
	return false
}

// SplitSource returns the data path and game limit used for split.
// A non-positive limit means every discovered game is used.
func (c *Config) SplitSource(split string) (string, int, error) {
	switch split {
	case SplitTrain:
		return c.Dataset.DataPath, c.Dataset.NumTrainGames, nil
	case SplitEvalInDistribution:
		return c.Dataset.EvalIDDataPath, c.Dataset.NumEvalGames, nil
	case SplitEvalOutOfDistribution:
		return c.Dataset.EvalOODDataPath, c.Dataset.NumEvalGames, nil
	}
	return "", 0, fmt.Errorf("%w: %q", ErrInvalidSplit, split)
}

// AsMap renders the configuration as a generic document, Extra sections
// included, for engines that consume the raw configuration.
func (c *Config) AsMap() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return doc, nil
}
