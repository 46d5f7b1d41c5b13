package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Uriel-Ondo/agro/internal/logging"
	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/repository"
)

const (
	presenceHeartbeat = 30 * time.Second
	presenceLease     = 3 * presenceHeartbeat
)

// PresenceTracker owns the is_online/last_active pair of every user.
// Connections are counted in storage per server instance, so a user stays
// online until the last socket closes on every instance, and an instance
// only ever releases the connections it holds itself.
type PresenceTracker struct {
	store      repository.Store
	instanceID string
	now        func() time.Time
	log        zerolog.Logger

	heartbeat time.Duration
	lease     time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// NewPresenceTracker builds a tracker for one server instance. An empty
// instanceID gets a random one, which is fine for a single process but
// leaves a restarted instance to be reaped by heartbeat expiry.
func NewPresenceTracker(store repository.Store, instanceID string) *PresenceTracker {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	return &PresenceTracker{
		store:      store,
		instanceID: instanceID,
		now:        time.Now,
		log:        logging.Component("presence").With().Str("instance_id", instanceID).Logger(),
		heartbeat:  presenceHeartbeat,
		lease:      presenceLease,
	}
}

func (p *PresenceTracker) InstanceID() string {
	return p.instanceID
}

// Start releases connections a previous run of this instance left behind,
// reaps instances whose heartbeat expired and starts heartbeating.
func (p *PresenceTracker) Start(ctx context.Context) error {
	released, err := p.release(ctx, p.instanceID)
	if err != nil {
		return err
	}
	if err := p.reapStale(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	if p.stop == nil {
		p.stop = make(chan struct{})
		p.stopped = make(chan struct{})
		go p.beat(context.WithoutCancel(ctx), p.stop, p.stopped)
	}
	p.mu.Unlock()

	p.log.Info().Int64("released", released).Msg("presence tracker started")
	return nil
}

// Stop ends the heartbeat and releases every connection this instance holds.
func (p *PresenceTracker) Stop(ctx context.Context) error {
	p.mu.Lock()
	stop, stopped := p.stop, p.stopped
	p.stop, p.stopped = nil, nil
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}

	released, err := p.release(ctx, p.instanceID)
	if err != nil {
		return err
	}
	p.log.Info().Int64("released", released).Msg("presence tracker stopped")
	return nil
}

func (p *PresenceTracker) beat(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := p.store.Repos().Users.TouchInstance(ctx, p.instanceID, p.now()); err != nil {
				p.log.Error().Err(err).Msg("presence heartbeat failed")
				continue
			}
			if err := p.reapStale(ctx); err != nil {
				p.log.Error().Err(err).Msg("presence reap failed")
			}
		}
	}
}

// reapStale releases instances that stopped heartbeating without a clean
// shutdown.
func (p *PresenceTracker) reapStale(ctx context.Context) error {
	stale, err := p.store.Repos().Users.StaleInstances(ctx, p.now().Add(-p.lease))
	if err != nil {
		return storageError(err)
	}

	var errs []error
	for _, instanceID := range stale {
		if instanceID == p.instanceID {
			continue
		}
		released, err := p.release(ctx, instanceID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.log.Warn().Str("stale_instance", instanceID).Int64("released", released).Msg("released connections of a stale instance")
	}
	return errors.Join(errs...)
}

func (p *PresenceTracker) release(ctx context.Context, instanceID string) (int64, error) {
	var released int64
	err := p.store.WithTx(ctx, func(repos repository.Repositories) error {
		var err error
		released, err = repos.Users.ReleaseInstance(ctx, instanceID, p.now())
		return err
	})
	if err != nil {
		return 0, storageError(err)
	}
	return released, nil
}

// SetOnline writes the online flag and last_active in one update. Unknown
// users are logged and ignored.
func (p *PresenceTracker) SetOnline(ctx context.Context, userID int64, online bool) error {
	updated, err := p.store.Repos().Users.SetPresence(ctx, userID, online, p.now())
	if err != nil {
		return storageError(err)
	}
	if !updated {
		p.log.Warn().Int64("user_id", userID).Bool("online", online).Msg("presence update for unknown user")
		return nil
	}
	p.log.Debug().Int64("user_id", userID).Bool("online", online).Msg("presence updated")
	return nil
}

func (p *PresenceTracker) IsOnline(ctx context.Context, userID int64) (bool, error) {
	presence, err := p.store.Repos().Users.GetPresence(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storageError(err)
	}
	return presence.IsOnline, nil
}

func (p *PresenceTracker) Presence(ctx context.Context, userID int64) (*models.Presence, error) {
	presence, err := p.store.Repos().Users.GetPresence(ctx, userID)
	if err != nil {
		return nil, storageError(err)
	}
	return presence, nil
}

func (p *PresenceTracker) ListOnline(ctx context.Context, role string) ([]models.User, error) {
	users, err := p.store.Repos().Users.ListOnlineByRole(ctx, role)
	if err != nil {
		return nil, storageError(err)
	}
	return users, nil
}

// Connect records a new connection for userID on this instance and marks
// the user online.
func (p *PresenceTracker) Connect(ctx context.Context, userID int64) error {
	var known bool
	err := p.store.WithTx(ctx, func(repos repository.Repositories) error {
		var err error
		known, err = repos.Users.AddConnection(ctx, p.instanceID, userID, p.now())
		return err
	})
	if err != nil {
		return storageError(err)
	}
	if !known {
		p.log.Warn().Int64("user_id", userID).Msg("connect for unknown user")
		return nil
	}
	p.log.Debug().Int64("user_id", userID).Msg("connection counted")
	return nil
}

// Disconnect releases one connection of userID on this instance. The user
// goes offline once no instance holds a connection for them. Extra
// disconnects are ignored.
func (p *PresenceTracker) Disconnect(ctx context.Context, userID int64) error {
	var offline bool
	err := p.store.WithTx(ctx, func(repos repository.Repositories) error {
		var err error
		offline, err = repos.Users.RemoveConnection(ctx, p.instanceID, userID, p.now())
		return err
	})
	if err != nil {
		return storageError(err)
	}
	if offline {
		p.log.Debug().Int64("user_id", userID).Msg("last connection closed")
	}
	return nil
}
