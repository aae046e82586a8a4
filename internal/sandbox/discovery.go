package sandbox

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/spf13/afero"
)

var screenshotPattern = regexp.MustCompile(`(?i)^step_(\d+)\.(?:png|jpe?g)$`)

// DiscoverScreenshots lists the step screenshots in dir ordered by numeric
// step index, so step_2 sorts before step_10. A missing dir yields nothing.
func DiscoverScreenshots(fsys afero.Fs, dir string) ([]Screenshot, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var shots []Screenshot
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := screenshotPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 {
			continue
		}
		shots = append(shots, Screenshot{StepIndex: idx, Path: filepath.Join(dir, entry.Name())})
	}

	sort.Slice(shots, func(i, j int) bool {
		if shots[i].StepIndex != shots[j].StepIndex {
			return shots[i].StepIndex < shots[j].StepIndex
		}
		return shots[i].Path < shots[j].Path
	})
	return shots, nil
}
