package playback

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/spf13/afero"
)

const indexFile = "index.json"

// SoundInfo describes one selectable sound.
type SoundInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Custom      bool   `json:"custom"`
	Ref         string `json:"ref"`
	Filename    string `json:"filename,omitempty"`
}

type customEntry struct {
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

// Library resolves sound names to playable clips. Built-in sounds are
// synthesized once; custom sounds live as files next to an index.
type Library struct {
	fs  afero.Fs
	dir string

	mu       sync.RWMutex
	custom   map[string]customEntry
	rendered map[string]Clip
	decoded  map[string]Clip // by file name
	fallback Profile
}

// OpenLibrary loads the custom sound index in dir. A missing index is an
// empty registry; a corrupt one is an error.
func OpenLibrary(fs afero.Fs, dir string) (*Library, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sounds dir: %w", err)
	}
	l := &Library{
		fs:       fs,
		dir:      dir,
		custom:   make(map[string]customEntry),
		rendered: make(map[string]Clip, len(Builtins)),
		decoded:  make(map[string]Clip),
		fallback: Builtins[0],
	}

	data, err := afero.ReadFile(fs, filepath.Join(dir, indexFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read sound index: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &l.custom); err != nil {
			return nil, fmt.Errorf("decode sound index: %w", err)
		}
	}
	return l, nil
}

// Default returns the fallback built-in clip.
func (l *Library) Default() Clip {
	l.mu.RLock()
	p := l.fallback
	l.mu.RUnlock()
	return l.builtinClip(p)
}

// SetDefault picks the built-in sound used when an alarm's own sound cannot
// be played.
func (l *Library) SetDefault(name string) error {
	p, ok := builtinByName(name)
	if !ok {
		return shared.ErrSoundNotFound
	}
	l.mu.Lock()
	l.fallback = p
	l.mu.Unlock()
	return nil
}

// IsBuiltin reports whether name is a synthesized sound.
func IsBuiltin(name string) bool {
	_, ok := builtinByName(name)
	return ok
}

func builtinByName(name string) (Profile, bool) {
	for _, p := range Builtins {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// List returns built-in sounds followed by custom sounds sorted by name.
func (l *Library) List() []SoundInfo {
	out := make([]SoundInfo, 0, len(Builtins))
	for _, p := range Builtins {
		out = append(out, SoundInfo{Name: p.Name, Description: p.Description, Ref: builtinRef(p.Name)})
	}

	l.mu.RLock()
	names := make([]string, 0, len(l.custom))
	for name := range l.custom {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := l.custom[name]
		out = append(out, SoundInfo{
			Name:        name,
			Description: e.Description,
			Custom:      true,
			Ref:         "custom/" + e.Filename,
			Filename:    e.Filename,
		})
	}
	l.mu.RUnlock()
	return out
}

// Ref returns the fully resolved reference clients use to fetch the sound.
// Unknown names resolve to the default sound.
func (l *Library) Ref(name string) string {
	if IsBuiltin(name) {
		return builtinRef(name)
	}
	l.mu.RLock()
	e, ok := l.custom[name]
	l.mu.RUnlock()
	if ok {
		return "custom/" + e.Filename
	}
	return builtinRef(Builtins[0].Name)
}

func builtinRef(name string) string {
	return "builtin/" + Slug(name)
}

// Resolve returns one playable pass of the named sound. Custom files are
// decoded on first use and kept in memory.
func (l *Library) Resolve(name string) (Clip, error) {
	if p, ok := builtinByName(name); ok {
		return l.builtinClip(p), nil
	}

	l.mu.RLock()
	e, ok := l.custom[name]
	clip, cached := l.decoded[e.Filename]
	l.mu.RUnlock()
	if !ok {
		return Clip{}, shared.ErrSoundNotFound
	}
	if cached {
		clip.Name = name
		return clip, nil
	}

	data, err := afero.ReadFile(l.fs, filepath.Join(l.dir, e.Filename))
	if err != nil {
		return Clip{}, fmt.Errorf("read sound %q: %w", name, err)
	}
	clip, err = DecodeClip(name, filepath.Ext(e.Filename), data)
	if err != nil {
		return Clip{}, fmt.Errorf("sound %q: %w", name, err)
	}

	l.mu.Lock()
	if cur, ok := l.custom[name]; ok && cur.Filename == e.Filename {
		l.decoded[e.Filename] = clip
	}
	l.mu.Unlock()
	return clip, nil
}

// Open returns the encoded audio for a reference produced by Ref along with
// its file extension. Built-in sounds are served as WAV.
func (l *Library) Open(ref string) ([]byte, string, error) {
	kind, rest, _ := strings.Cut(ref, "/")
	switch kind {
	case "builtin":
		for _, p := range Builtins {
			if Slug(p.Name) == rest {
				c := l.builtinClip(p)
				return EncodeWAV(c.Format, c.PCM), ".wav", nil
			}
		}
	case "custom":
		l.mu.RLock()
		known := false
		for _, e := range l.custom {
			if e.Filename == rest {
				known = true
				break
			}
		}
		l.mu.RUnlock()
		if known {
			data, err := afero.ReadFile(l.fs, filepath.Join(l.dir, rest))
			if err != nil {
				return nil, "", fmt.Errorf("read sound file: %w", err)
			}
			return data, strings.ToLower(path.Ext(rest)), nil
		}
	}
	return nil, "", shared.ErrSoundNotFound
}

func (l *Library) builtinClip(p Profile) Clip {
	l.mu.RLock()
	c, ok := l.rendered[p.Name]
	l.mu.RUnlock()
	if ok {
		return c
	}

	c = p.Render()
	l.mu.Lock()
	l.rendered[p.Name] = c
	l.mu.Unlock()
	return c
}

// Add stores a custom sound under name. uploadName only contributes its
// extension; the stored file name is derived from name, and no two sounds may
// share it. Data that cannot be decoded is rejected.
func (l *Library) Add(name, uploadName string, data []byte) (SoundInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return SoundInfo{}, shared.ErrSoundNameRequired
	}
	if IsBuiltin(name) {
		return SoundInfo{}, shared.ErrBuiltinSound
	}
	ext := strings.ToLower(filepath.Ext(uploadName))
	if !AllowedExtensions[ext] {
		return SoundInfo{}, shared.ErrUnsupportedSound
	}
	slug := Slug(name)
	if slug == "" {
		return SoundInfo{}, shared.ErrSoundNameRequired
	}
	filename := slug + ext

	clip, err := DecodeClip(name, ext, data)
	if err != nil {
		return SoundInfo{}, fmt.Errorf("%w: %v", shared.ErrUndecodableSound, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for other, e := range l.custom {
		if other != name && strings.TrimSuffix(e.Filename, filepath.Ext(e.Filename)) == slug {
			return SoundInfo{}, shared.ErrSoundNameTaken
		}
	}

	if err := afero.WriteFile(l.fs, filepath.Join(l.dir, filename), data, 0o644); err != nil {
		return SoundInfo{}, fmt.Errorf("write sound file: %w", err)
	}

	prev, existed := l.custom[name]
	entry := customEntry{Filename: filename, Description: "Custom: " + filepath.Base(uploadName)}
	l.custom[name] = entry
	if err := l.saveIndexLocked(); err != nil {
		if existed {
			l.custom[name] = prev
		} else {
			delete(l.custom, name)
		}
		return SoundInfo{}, err
	}
	if existed && prev.Filename != filename {
		_ = l.fs.Remove(filepath.Join(l.dir, prev.Filename))
		delete(l.decoded, prev.Filename)
	}
	l.decoded[filename] = clip

	return SoundInfo{
		Name:        name,
		Description: entry.Description,
		Custom:      true,
		Ref:         "custom/" + filename,
		Filename:    filename,
	}, nil
}

// Remove deletes a custom sound and its file.
func (l *Library) Remove(name string) error {
	if IsBuiltin(name) {
		return shared.ErrBuiltinSound
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.custom[name]
	if !ok {
		return shared.ErrSoundNotFound
	}
	delete(l.custom, name)
	if err := l.saveIndexLocked(); err != nil {
		l.custom[name] = e
		return err
	}
	delete(l.decoded, e.Filename)
	if err := l.fs.Remove(filepath.Join(l.dir, e.Filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove sound file: %w", err)
	}
	return nil
}

func (l *Library) saveIndexLocked() error {
	data, err := json.MarshalIndent(l.custom, "", "  ")
	if err != nil {
		return err
	}
	idx := filepath.Join(l.dir, indexFile)
	tmp := idx + ".tmp"
	if err := afero.WriteFile(l.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write sound index: %w", err)
	}
	if err := l.fs.Rename(tmp, idx); err != nil {
		return fmt.Errorf("replace sound index: %w", err)
	}
	return nil
}
