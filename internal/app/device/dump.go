package device

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkeye/daudio/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// dumper appends raw frames to a file for offline inspection.
type dumper struct {
	module string
	f      *os.File
	logs   rate.Sometimes
}

func openDump(dir, module, dhID string) (*dumper, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s_%s_%d.pcm", module, filepath.Base(dhID), time.Now().UnixNano())
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", module).Str("dh_id", dhID).Str("file", f.Name()).Msg("dumping frames")
	return &dumper{module: module, f: f, logs: rate.Sometimes{Interval: time.Second}}, nil
}

func (d *dumper) write(frame *domain.AudioFrame) {
	if d == nil {
		return
	}
	if _, err := d.f.Write(frame.Data()); err != nil {
		d.logs.Do(func() {
			log.Warn().Err(err).Str("module", d.module).Str("file", d.f.Name()).Msg("dump write")
		})
	}
}

func (d *dumper) close() {
	if d == nil {
		return
	}
	if err := d.f.Close(); err != nil {
		log.Warn().Err(err).Str("module", d.module).Str("file", d.f.Name()).Msg("dump close")
	}
}
