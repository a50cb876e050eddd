package instructions

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	perrors "github.com/whot/papagai/internal/errors"
)

//go:embed builtin
var builtin embed.FS

const (
	tasksDir   = "builtin/tasks"
	primersDir = "builtin/primers"
)

// Primers shipped with papagai.
const (
	PrimerCode   = "code"
	PrimerReview = "review"
)

// Task is a named instruction file.
type Task struct {
	Name        string // path relative to the task directory, without .md
	Description string
	Source      string // "user" or "builtin"
}

// Library finds tasks in a user directory first and in the built-in set
// second.
type Library struct {
	userDir string
	builtin fs.FS
}

// NewLibrary returns a library looking for user tasks in userDir, which
// need not exist.
func NewLibrary(userDir string) *Library {
	sub, _ := fs.Sub(builtin, tasksDir)
	return &Library{userDir: userDir, builtin: sub}
}

// Primer returns the built-in primer called name.
func Primer(name string) (Instructions, error) {
	data, err := builtin.ReadFile(path.Join(primersDir, name+".md"))
	if err != nil {
		return Instructions{}, perrors.E(perrors.Op("instructions.Primer"), perrors.KindNotFound, "no primer "+name, err)
	}
	return Parse(string(data)), nil
}

// Find returns the task called name.
func (l *Library) Find(name string) (Instructions, error) {
	const op = perrors.Op("instructions.Find")
	if name == "" || strings.Contains(name, "..") || path.IsAbs(name) {
		return Instructions{}, perrors.InvalidInput(op, "invalid task name "+name)
	}
	file := name + ".md"
	for _, fsys := range l.dirs() {
		data, err := fs.ReadFile(fsys.fs, file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Instructions{}, perrors.E(op, perrors.KindIO, err)
		}
		return Parse(string(data)), nil
	}
	return Instructions{}, perrors.E(op, perrors.KindNotFound, "task '"+name+"' not found")
}

// List returns the tasks that carry a description, user tasks first. A
// user task hides a built-in task of the same name. Files that cannot be
// read are returned in skipped.
func (l *Library) List() (tasks []Task, skipped []string, err error) {
	seen := map[string]bool{}
	for _, d := range l.dirs() {
		var names []string
		werr := fs.WalkDir(d.fs, ".", func(p string, e fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fs.SkipAll
				}
				return err
			}
			if !e.IsDir() && strings.HasSuffix(p, ".md") {
				names = append(names, p)
			}
			return nil
		})
		if werr != nil {
			return nil, nil, perrors.E(perrors.Op("instructions.List"), perrors.KindIO, werr)
		}
		slices.Sort(names)
		for _, p := range names {
			name := strings.TrimSuffix(p, ".md")
			if seen[name] {
				continue
			}
			data, err := fs.ReadFile(d.fs, p)
			if err != nil {
				skipped = append(skipped, p)
				continue
			}
			in := Parse(string(data))
			if in.Description == "" {
				skipped = append(skipped, p)
				continue
			}
			seen[name] = true
			tasks = append(tasks, Task{Name: name, Description: in.Description, Source: d.source})
		}
	}
	return tasks, skipped, nil
}

type taskDir struct {
	fs     fs.FS
	source string
}

func (l *Library) dirs() []taskDir {
	var dirs []taskDir
	if l.userDir != "" {
		dirs = append(dirs, taskDir{fs: os.DirFS(l.userDir), source: "user"})
	}
	return append(dirs, taskDir{fs: l.builtin, source: "builtin"})
}
