package intake

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StartRetentionSweep launches the periodic notification prune. No-op when
// the interval or max age is unset.
func (i *Intake) StartRetentionSweep() {
	i.lifecycleMu.Lock()
	defer i.lifecycleMu.Unlock()

	if i.running.Load() || i.sweepInterval <= 0 || i.maxAge <= 0 {
		return
	}

	i.stopCh = make(chan struct{})
	i.doneCh = make(chan struct{})
	i.running.Store(true)

	go i.sweepLoop()
	log.Info().Dur("interval", i.sweepInterval).Dur("max_age", i.maxAge).Msg("Retention sweep started")
}

// StopRetentionSweep stops the prune loop and waits for it to exit.
func (i *Intake) StopRetentionSweep() {
	i.lifecycleMu.Lock()
	defer i.lifecycleMu.Unlock()

	if !i.running.Load() {
		return
	}

	close(i.stopCh)
	<-i.doneCh
	i.running.Store(false)
}

func (i *Intake) sweepLoop() {
	defer close(i.doneCh)

	ticker := time.NewTicker(i.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.stopCh:
			return
		case <-ticker.C:
			i.sweep()
		}
	}
}

func (i *Intake) sweep() {
	cutoff := time.Now().Add(-i.maxAge)
	pruned, err := i.store.PruneNotifications(context.Background(), cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Retention sweep failed")
		return
	}
	if pruned > 0 {
		log.Info().Int64("pruned", pruned).Time("cutoff", cutoff).Msg("Pruned old notifications")
	}
}
