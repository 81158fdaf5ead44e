package poller

import (
	"context"
	"fmt"
	"os"
	"time"

	"storyforge/internal/model"
)

// waitStable снимает размер файла до StabilitySamples раз с паузой StabilityDelay.
// Файл стабилен, когда два подряд идущих замера совпадают и не равны нулю.
func (p *Poller) waitStable(ctx context.Context, path string) (bool, error) {
	prev := int64(-1)
	for i := 0; i < p.cfg.StabilitySamples; i++ {
		size := int64(-1)
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		if size > 0 && size == prev {
			return true, nil
		}
		prev = size

		if i == p.cfg.StabilitySamples-1 {
			break
		}
		t := time.NewTimer(p.cfg.StabilityDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, fmt.Errorf("%w: stability check of %s: %w", model.ErrCancelled, path, ctx.Err())
		case <-t.C:
		}
	}
	return false, nil
}
