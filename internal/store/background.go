package store

import (
	"errors"
	"time"
)

// StartBackgroundFlush starts a goroutine that flushes pending writes every
// interval. Close stops it.
func (s *FileStore) StartBackgroundFlush(interval time.Duration) {
	if s.flushStop != nil {
		return // already running
	}
	s.flushStop = make(chan struct{})
	s.flushDone = make(chan struct{})
	stop, done := s.flushStop, s.flushDone

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				err := s.Flush()
				if errors.Is(err, ErrClosed) {
					return
				}
				if err != nil {
					s.log.Error().Err(err).Msg("background flush failed")
				}
			}
		}
	}()

	s.log.Debug().Dur("interval", interval).Msg("started background flush")
}

// StopBackgroundFlush stops the background flush goroutine.
func (s *FileStore) StopBackgroundFlush() {
	if s.flushStop == nil {
		return
	}
	close(s.flushStop)
	<-s.flushDone
	s.flushStop = nil
	s.flushDone = nil
	s.log.Debug().Msg("stopped background flush")
}
