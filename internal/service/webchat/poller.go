package webchat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sppetrol/webchat/internal/logging"
	"github.com/sppetrol/webchat/internal/model/chat"
)

// DefaultPollInterval is the fallback channel period.
const DefaultPollInterval = 2 * time.Second

// Poller is the fallback channel: it pulls operator replies the live channel
// may have missed, bounded by the log's watermark.
type Poller struct {
	backend   Backend
	sessionID string
	interval  time.Duration
	log       *MessageLog
	logger    zerolog.Logger
}

// NewPoller creates a poller for sessionID feeding log.
func NewPoller(backend Backend, sessionID string, interval time.Duration, log *MessageLog, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		backend:   backend,
		sessionID: sessionID,
		interval:  interval,
		log:       log,
		logger:    logger,
	}
}

// Run polls immediately and then on every tick until ctx is cancelled.
// Failed polls are skipped; the next tick retries.
func (p *Poller) Run(ctx context.Context) error {
	p.pollLogged(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pollLogged(ctx)
		}
	}
}

func (p *Poller) pollLogged(ctx context.Context) {
	if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.Debug().Err(err).Str(logging.FieldSessionID, p.sessionID).Msg("poll failed")
	}
}

// PollOnce performs a single poll and returns how many messages it appended.
// The watermark moves to the created_at of the batch's last entry, whatever its
// role.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	batch, err := p.backend.Poll(ctx, p.sessionID, p.log.Watermark().String())
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	admins := make([]chat.Message, 0, len(batch))
	for _, msg := range batch {
		if msg.IsAdmin() {
			admins = append(admins, msg)
		}
	}

	return p.log.AcceptAdmin(admins, batch[len(batch)-1].CreatedAt), nil
}
