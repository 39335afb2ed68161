package command

import (
	"context"
	"log/slog"

	"github.com/chronos-os/chronos/internal/infrastructure/playback"
)

// SoundLibrary is the sound registry the sound commands manage.
type SoundLibrary interface {
	List() []playback.SoundInfo
	Add(name, uploadName string, data []byte) (playback.SoundInfo, error)
	Remove(name string) error
}

// SoundHandler manages custom sounds.
type SoundHandler struct {
	library SoundLibrary
	logger  *slog.Logger
}

// NewSoundHandler creates a new SoundHandler.
func NewSoundHandler(library SoundLibrary, logger *slog.Logger) *SoundHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SoundHandler{library: library, logger: logger.With("component", "sound_commands")}
}

// List returns built-in and custom sounds.
func (h *SoundHandler) List(ctx context.Context) []playback.SoundInfo {
	return h.library.List()
}

// Upload stores a custom sound. Alarms that reference a custom sound which
// later disappears fall back to the default at playback time.
func (h *SoundHandler) Upload(ctx context.Context, name, uploadName string, data []byte) (playback.SoundInfo, error) {
	info, err := h.library.Add(name, uploadName, data)
	if err != nil {
		return playback.SoundInfo{}, err
	}
	h.logger.Info("custom sound added", "sound", info.Name, "file", info.Filename, "bytes", len(data))
	return info, nil
}

// Delete removes a custom sound.
func (h *SoundHandler) Delete(ctx context.Context, name string) error {
	if err := h.library.Remove(name); err != nil {
		return err
	}
	h.logger.Info("custom sound removed", "sound", name)
	return nil
}
