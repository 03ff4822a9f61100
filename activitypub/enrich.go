package activitypub

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/mkweber/inkpot/domain"
	"github.com/mkweber/inkpot/metrics"
	"github.com/mkweber/inkpot/util"
	"golang.org/x/sync/semaphore"
)

// profileMaxAge is how old a cached remote profile may get before an
// enrichment pass refreshes it from origin.
const profileMaxAge = 24 * time.Hour

// Enricher backfills newly discovered remote actors in the background: it
// imports their recent articles, mirrors their follower relations, and
// refreshes stale profiles. Events arrive on a bounded channel and a
// weighted semaphore caps concurrent enrichments; each enrichment runs its
// steps sequentially so it never holds more than one store connection.
type Enricher struct {
	store      Store
	conf       *util.AppConfig
	resolver   *Resolver
	dispatcher *Dispatcher
	events     chan *domain.Actor
	sem        *semaphore.Weighted
}

func NewEnricher(store Store, conf *util.AppConfig, resolver *Resolver, dispatcher *Dispatcher) *Enricher {
	return &Enricher{
		store:      store,
		conf:       conf,
		resolver:   resolver,
		dispatcher: dispatcher,
		events:     make(chan *domain.Actor, conf.Conf.EnrichQueue),
		sem:        semaphore.NewWeighted(int64(conf.Conf.EnrichWorkers)),
	}
}

// Notify queues an actor for enrichment. Never blocks: when the queue is
// full the event is dropped, since enrichment is best-effort and the actor
// will be picked up again on its next appearance.
func (e *Enricher) Notify(actor *domain.Actor) {
	select {
	case e.events <- actor:
		metrics.EnrichQueued.Inc()
	default:
		log.Warn("Enricher: queue full, dropping event", "actor", actor.URI)
		metrics.EnrichDropped.Inc()
	}
}

// Run consumes the event queue until the context is cancelled. It is the
// only goroutine reading the channel; workers are spawned per event up to
// the semaphore limit.
func (e *Enricher) Run(ctx context.Context) {
	log.Info("Enricher: starting", "workers", e.conf.Conf.EnrichWorkers, "queue", e.conf.Conf.EnrichQueue)
	for {
		select {
		case <-ctx.Done():
			log.Info("Enricher: shutting down")
			return
		case actor := <-e.events:
			if err := e.sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func(actor *domain.Actor) {
				defer e.sem.Release(1)
				e.process(ctx, actor)
			}(actor)
		}
	}
}

func (e *Enricher) process(ctx context.Context, actor *domain.Actor) {
	start := time.Now()

	if actor.NeedsRefresh(profileMaxAge) {
		refreshed, err := e.resolver.RefetchActor(ctx, actor.URI)
		if err != nil {
			log.Warn("Enricher: profile refresh failed", "actor", actor.URI, "err", err)
		} else {
			actor = refreshed
		}
	}

	imported := e.importOutbox(ctx, actor)
	followers := e.importFollowers(ctx, actor)

	metrics.EnrichProcessed.Inc()
	log.Info("Enricher: done",
		"actor", actor.URI,
		"articles", imported,
		"followers", followers,
		"took", time.Since(start))
}

// importOutbox pulls the first page of the actor's outbox and feeds its
// Create activities through the regular dispatch path, so imports share
// the dedup ledger with live deliveries.
func (e *Enricher) importOutbox(ctx context.Context, actor *domain.Actor) int {
	items, err := e.resolver.FetchOutbox(ctx, actor)
	if err != nil {
		log.Warn("Enricher: outbox fetch failed", "actor", actor.URI, "err", err)
		return 0
	}

	imported := 0
	for _, item := range items {
		if imported >= e.conf.Conf.MaxArticleImport {
			break
		}

		act, err := ParseActivity(item)
		if err != nil {
			continue
		}
		create, ok := act.(Create)
		if !ok || create.ActorURI() != actor.URI {
			continue
		}

		outcome, err := e.dispatcher.Apply(ctx, actor, create)
		if err != nil {
			log.Debug("Enricher: article import failed", "activity", create.URI(), "err", err)
			continue
		}
		if outcome == OutcomeApplied {
			imported++
			metrics.EnrichArticlesImported.Inc()
		}
	}
	return imported
}

// importFollowers mirrors the actor's follower relations so broadcast
// audiences are meaningful from day one. Failures are tolerated per item.
func (e *Enricher) importFollowers(ctx context.Context, actor *domain.Actor) int {
	uris, err := e.resolver.FetchFollowerIDs(ctx, actor)
	if err != nil {
		log.Warn("Enricher: followers fetch failed", "actor", actor.URI, "err", err)
		return 0
	}

	imported := 0
	for _, uri := range uris {
		follower, err := e.resolver.ResolveActor(ctx, uri)
		if err != nil {
			log.Debug("Enricher: follower resolve failed", "uri", uri, "err", err)
			continue
		}

		if err, existing := e.store.FollowByPair(follower.Id, actor.Id); err == nil && existing != nil {
			continue
		}

		follow := &domain.Follow{
			Id:            uuid.New(),
			ActorId:       follower.Id,
			TargetActorId: actor.Id,
			Accepted:      true,
			CreatedAt:     time.Now(),
		}
		if err := e.store.CreateFollow(follow); err != nil {
			log.Debug("Enricher: follower import failed", "uri", uri, "err", err)
			continue
		}
		imported++
	}
	return imported
}
