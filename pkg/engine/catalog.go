package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Task directory layout.
const (
	TrajDataFile = "traj_data.json"
	GameFile     = "game.tw-pddl"
)

// TaskTypes maps the numeric task family ids used in configuration to the
// task_type names found in trajectory data.
var TaskTypes = map[int]string{
	1: "pick_and_place_simple",
	2: "look_at_obj_in_light",
	3: "pick_clean_then_place_in_recep",
	4: "pick_heat_then_place_in_recep",
	5: "pick_cool_then_place_in_recep",
	6: "pick_two_obj_and_place",
}

type trajData struct {
	TaskType string `json:"task_type"`
}

type gameData struct {
	Solvable bool `json:"solvable"`
}

// DiscoverTasks enumerates the game files of split in lexical path order.
//
// A task directory holds traj_data.json and game.tw-pddl. Directories for
// movable or sliced object variants are skipped, as are tasks whose family is
// not enabled in cfg.Env.TaskTypes and games not marked solvable. With
// cfg.Env.RegenGameFiles set, a missing game file is listed anyway since the
// engine generates it on load. An empty split yields an empty catalog.
func DiscoverTasks(cfg *Config, split string) ([]string, error) {
	root, limit, err := cfg.SplitSource(split)
	if err != nil {
		return nil, err
	}
	if root == "" {
		return nil, fmt.Errorf("no data path configured for split %q", split)
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("data path for split %q: %w", split, err)
	}

	allowed := allowedTaskTypes(cfg.Env.TaskTypes)

	var games []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != TrajDataFile {
			return nil
		}

		dir := filepath.Dir(path)
		if strings.Contains(dir, "movable") || strings.Contains(dir, "Sliced") {
			return nil
		}

		var traj trajData
		if err := readJSON(path, &traj); err != nil {
			return err
		}
		if _, ok := allowed[traj.TaskType]; !ok {
			return nil
		}

		gamePath := filepath.Join(dir, GameFile)
		var game gameData
		if err := readJSON(gamePath, &game); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if cfg.Env.RegenGameFiles {
				games = append(games, gamePath)
			}
			return nil
		}
		if !game.Solvable {
			return nil
		}

		games = append(games, gamePath)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect game files: %w", err)
	}

	if limit > 0 && len(games) > limit {
		games = games[:limit]
	}
	if games == nil {
		games = []string{}
	}
	return games, nil
}

func allowedTaskTypes(ids []int) map[string]struct{} {
	allowed := make(map[string]struct{}, len(TaskTypes))
	if len(ids) == 0 {
		for _, name := range TaskTypes {
			allowed[name] = struct{}{}
		}
		return allowed
	}
	for _, id := range ids {
		if name, ok := TaskTypes[id]; ok {
			allowed[name] = struct{}{}
		}
	}
	return allowed
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
