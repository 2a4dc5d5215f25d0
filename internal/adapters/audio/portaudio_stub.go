//go:build !portaudio

package audio

import (
	"fmt"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
)

// NewPortAudioProvider needs the portaudio build tag and the native library.
func NewPortAudioProvider() (core.Provider, error) {
	return nil, fmt.Errorf("%w: built without portaudio", domain.ErrProviderUnavailable)
}
