package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/mkweber/inkpot/domain"
	"github.com/mkweber/inkpot/metrics"
	"github.com/mkweber/inkpot/util"
)

// Outcome classifies what a delivery did. Duplicate and Discarded are
// successful no-ops from the remote's point of view and answer 202 like
// Applied does.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeDuplicate
	OutcomeDiscarded
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "rejected"
	}
}

// Result is what a processed delivery hands back to the transport layer.
type Result struct {
	Outcome  Outcome
	Activity Activity
	Signer   *domain.Actor
}

// Dispatcher applies verified activities to the store. Every side effect is
// guarded by the inbox ledger so redelivered activities are exact no-ops.
type Dispatcher struct {
	store    Store
	resolver *Resolver
	verifier *Verifier
	notifier Notifier
	conf     *util.AppConfig

	// OnFollow fires after an inbound follow has been recorded, so the
	// caller can answer with an Accept. Re-fires for duplicate follows
	// since the remote may have missed the first Accept.
	OnFollow func(follow *domain.Follow, follower, target *domain.Actor)
}

func NewDispatcher(store Store, resolver *Resolver, verifier *Verifier, notifier Notifier, conf *util.AppConfig) *Dispatcher {
	return &Dispatcher{
		store:    store,
		resolver: resolver,
		verifier: verifier,
		notifier: notifier,
		conf:     conf,
	}
}

// HandleDelivery runs the full inbound pipeline: verify, blocklist, parse,
// dedup, apply. A non-nil error always comes with OutcomeRejected.
func (d *Dispatcher) HandleDelivery(ctx context.Context, r *http.Request, body []byte) (*Result, error) {
	signer, err := d.verifier.VerifyRequest(ctx, r, body)
	if err != nil {
		if errors.Is(err, ErrBlocked) {
			// Blocked senders get a silent discard, not an error reply.
			log.Info("Inbox: discarding delivery from blocked instance")
			metrics.InboxActivities.WithLabelValues("unknown", OutcomeDiscarded.String()).Inc()
			return &Result{Outcome: OutcomeDiscarded}, nil
		}
		metrics.InboxActivities.WithLabelValues("unknown", OutcomeRejected.String()).Inc()
		return &Result{Outcome: OutcomeRejected}, err
	}

	if d.signerBlocked(signer) {
		log.Info("Inbox: discarding activity from blocked instance", "actor", signer.URI)
		metrics.InboxActivities.WithLabelValues("unknown", OutcomeDiscarded.String()).Inc()
		return &Result{Outcome: OutcomeDiscarded, Signer: signer}, nil
	}

	act, err := ParseActivity(body)
	if err != nil {
		// Unknown vocabulary is logged and dropped; a 400 would only make
		// the remote retry forever.
		log.Info("Inbox: discarding unparseable activity", "actor", signer.URI, "err", err)
		metrics.InboxActivities.WithLabelValues("unknown", OutcomeDiscarded.String()).Inc()
		return &Result{Outcome: OutcomeDiscarded, Signer: signer}, nil
	}

	if act.ActorURI() != signer.URI {
		log.Warn("Inbox: activity actor does not match signer",
			"actor", act.ActorURI(), "signer", signer.URI)
		metrics.InboxActivities.WithLabelValues(act.TypeName(), OutcomeRejected.String()).Inc()
		return &Result{Outcome: OutcomeRejected, Activity: act, Signer: signer},
			fmt.Errorf("%w: actor/signer mismatch", ErrInvalidSignature)
	}

	outcome, err := d.Apply(ctx, signer, act)
	metrics.InboxActivities.WithLabelValues(act.TypeName(), outcome.String()).Inc()
	return &Result{Outcome: outcome, Activity: act, Signer: signer}, err
}

// Apply dispatches one already-verified activity. The enrichment worker
// feeds imported activities through here so they share the dedup ledger
// with live deliveries.
func (d *Dispatcher) Apply(ctx context.Context, signer *domain.Actor, act Activity) (Outcome, error) {
	if act.URI() != "" {
		err, seen := d.store.InboxRecordExists(act.URI())
		if err != nil {
			return OutcomeRejected, fmt.Errorf("%w: %v", ErrStore, err)
		}
		if seen {
			log.Debug("Inbox: already applied", "activity", act.URI())
			return OutcomeDuplicate, nil
		}
	}

	var err error
	switch a := act.(type) {
	case Follow:
		err = d.applyFollow(signer, a)
	case Accept:
		err = d.applyAccept(signer, a)
	case Like:
		err = d.applyLike(ctx, signer, a)
	case Announce:
		err = d.applyAnnounce(ctx, signer, a)
	case Undo:
		err = d.applyUndo(signer, a)
	case Create:
		err = d.applyCreate(ctx, signer, a)
	case Update:
		err = d.applyUpdate(signer, a)
	case Delete:
		err = d.applyDelete(signer, a)
	default:
		log.Info("Inbox: no handler for activity", "type", act.TypeName())
		return OutcomeDiscarded, nil
	}

	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return OutcomeDuplicate, nil
		}
		return OutcomeRejected, err
	}

	if act.URI() != "" {
		rec := &domain.InboxRecord{
			Id:           uuid.New(),
			ActivityURI:  act.URI(),
			ActivityType: act.TypeName(),
			ActorURI:     signer.URI,
			CreatedAt:    time.Now(),
		}
		if err := d.store.CreateInboxRecord(rec); err != nil {
			// The side effects went through; a failed ledger write must not
			// bounce the delivery. Redelivery lands on idempotent handlers.
			log.Warn("Inbox: failed to record activity", "activity", act.URI(), "err", err)
		}
	}
	return OutcomeApplied, nil
}

func (d *Dispatcher) applyFollow(signer *domain.Actor, a Follow) error {
	err, target := d.store.ActorByURI(a.Object)
	if err != nil || target == nil || !target.Local {
		return fmt.Errorf("%w: follow target %s", ErrNotFound, a.Object)
	}

	err, existing := d.store.FollowByPair(signer.Id, target.Id)
	if err == nil && existing != nil {
		// The remote likely missed our Accept; answer again.
		if d.OnFollow != nil {
			d.OnFollow(existing, signer, target)
		}
		return ErrDuplicate
	}

	follow := &domain.Follow{
		Id:            uuid.New(),
		ActorId:       signer.Id,
		TargetActorId: target.Id,
		URI:           a.URI(),
		Accepted:      true,
		CreatedAt:     time.Now(),
	}
	if err := d.store.CreateFollow(follow); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	d.notify(domain.NotifyFollow, signer.Id, target.Id, a.URI())
	log.Info("Inbox: new follower", "follower", signer.URI, "target", target.Username)

	if d.OnFollow != nil {
		d.OnFollow(follow, signer, target)
	}
	return nil
}

func (d *Dispatcher) applyAccept(signer *domain.Actor, a Accept) error {
	if a.Object.ID == "" {
		log.Info("Inbox: Accept without follow reference, ignoring", "actor", signer.URI)
		return nil
	}
	err, follow := d.store.FollowByURI(a.Object.ID)
	if err != nil || follow == nil {
		// We never sent this follow, or it was withdrawn in the meantime.
		log.Info("Inbox: Accept for unknown follow, ignoring", "follow", a.Object.ID)
		return nil
	}
	if err := d.store.AcceptFollowByURI(a.Object.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	log.Info("Inbox: follow accepted", "follow", a.Object.ID, "by", signer.URI)
	return nil
}

func (d *Dispatcher) applyLike(ctx context.Context, signer *domain.Actor, a Like) error {
	article, err := d.resolver.ResolveArticle(ctx, a.Object)
	if err != nil {
		return err
	}

	err, existing := d.store.LikeByPair(signer.Id, article.Id)
	if err == nil && existing != nil {
		return ErrDuplicate
	}

	like := &domain.Like{
		Id:        uuid.New(),
		ActorId:   signer.Id,
		ArticleId: article.Id,
		URI:       a.URI(),
		CreatedAt: time.Now(),
	}
	if err := d.store.CreateLike(like); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	d.addToTimeline("like", article.Id, signer.Id)
	d.notify(domain.NotifyLike, signer.Id, article.AuthorId, article.URI)
	return nil
}

func (d *Dispatcher) applyAnnounce(ctx context.Context, signer *domain.Actor, a Announce) error {
	article, err := d.resolver.ResolveArticle(ctx, a.Object)
	if err != nil {
		return err
	}

	err, existing := d.store.ReshareByPair(signer.Id, article.Id)
	if err == nil && existing != nil {
		return ErrDuplicate
	}

	reshare := &domain.Reshare{
		Id:        uuid.New(),
		ActorId:   signer.Id,
		ArticleId: article.Id,
		URI:       a.URI(),
		CreatedAt: time.Now(),
	}
	if err := d.store.CreateReshare(reshare); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	d.addToTimeline("reshare", article.Id, signer.Id)
	d.notify(domain.NotifyReshare, signer.Id, article.AuthorId, article.URI)
	return nil
}

// applyUndo reverses a prior effect by (actor, target) pair. A missing
// effect is a silent no-op: the remote's goal state already holds.
func (d *Dispatcher) applyUndo(signer *domain.Actor, a Undo) error {
	switch a.Object.Type {
	case "Follow":
		err, follow := d.undoFollowLookup(signer, a.Object)
		if err != nil || follow == nil {
			log.Debug("Inbox: Undo Follow with nothing to undo", "actor", signer.URI)
			return nil
		}
		if err := d.store.DeleteFollow(follow.Id); err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}
		log.Info("Inbox: follower left", "follower", signer.URI)

	case "Like":
		err, article := d.store.ArticleByURI(a.Object.Object)
		if err != nil || article == nil {
			return nil
		}
		err, like := d.store.LikeByPair(signer.Id, article.Id)
		if err != nil || like == nil {
			return nil
		}
		if err := d.store.DeleteLike(like.Id); err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}

	case "Announce":
		err, article := d.store.ArticleByURI(a.Object.Object)
		if err != nil || article == nil {
			return nil
		}
		err, reshare := d.store.ReshareByPair(signer.Id, article.Id)
		if err != nil || reshare == nil {
			return nil
		}
		if err := d.store.DeleteReshare(reshare.Id); err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}

	default:
		log.Debug("Inbox: Undo for unsupported type, ignoring", "type", a.Object.Type)
	}
	return nil
}

// undoFollowLookup finds the follow being undone, by URI when the remote
// ships one, falling back to the (actor, target) pair.
func (d *Dispatcher) undoFollowLookup(signer *domain.Actor, ref ObjectRef) (error, *domain.Follow) {
	if ref.ID != "" {
		if err, follow := d.store.FollowByURI(ref.ID); err == nil && follow != nil {
			return nil, follow
		}
	}
	if ref.Object == "" {
		return ErrNotFound, nil
	}
	err, target := d.store.ActorByURI(ref.Object)
	if err != nil || target == nil {
		return ErrNotFound, nil
	}
	return d.store.FollowByPair(signer.Id, target.Id)
}

func (d *Dispatcher) applyCreate(ctx context.Context, signer *domain.Actor, a Create) error {
	if a.Object.ID == "" {
		return fmt.Errorf("%w: Create without object id", ErrNotFound)
	}

	err, existing := d.store.ArticleByURI(a.Object.ID)
	if err == nil && existing != nil {
		return ErrDuplicate
	}

	author := signer
	if a.Object.AttributedTo != "" && a.Object.AttributedTo != signer.URI {
		author, err = d.resolver.ResolveActor(ctx, a.Object.AttributedTo)
		if err != nil {
			return err
		}
	}

	now := time.Now()
	article := &domain.Article{
		Id:        uuid.New(),
		URI:       a.Object.ID,
		AuthorId:  author.Id,
		Title:     a.Object.Name,
		Content:   a.Object.Content,
		Summary:   a.Object.Summary,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if t, err := time.Parse(time.RFC3339, a.Object.Published); err == nil {
		article.CreatedAt = t
		article.UpdatedAt = t
	}

	if err := d.store.CreateArticle(article); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	d.addToTimeline("create", article.Id, author.Id)
	return nil
}

func (d *Dispatcher) applyUpdate(signer *domain.Actor, a Update) error {
	err, article := d.store.ArticleByURI(a.Object.ID)
	if err != nil || article == nil {
		return fmt.Errorf("%w: update target %s", ErrNotFound, a.Object.ID)
	}
	if article.AuthorId != signer.Id {
		return fmt.Errorf("%w: %s is not the author of %s", ErrInvalidSignature, signer.URI, article.URI)
	}

	article.Title = a.Object.Name
	article.Content = a.Object.Content
	article.Summary = a.Object.Summary
	article.UpdatedAt = time.Now()
	if t, err := time.Parse(time.RFC3339, a.Object.Updated); err == nil {
		article.UpdatedAt = t
	}

	if err := d.store.UpdateArticle(article); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

func (d *Dispatcher) applyDelete(signer *domain.Actor, a Delete) error {
	target := a.Object.ID
	if target == "" {
		return fmt.Errorf("%w: Delete without object", ErrNotFound)
	}

	if target == signer.URI {
		if err := d.store.TombstoneActor(signer.Id); err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}
		log.Info("Inbox: actor deleted their account", "actor", signer.URI)
		return nil
	}

	err, article := d.store.ArticleByURI(target)
	if err != nil || article == nil {
		// Never seen or already gone; deletion is idempotent either way.
		log.Debug("Inbox: Delete for unknown object, ignoring", "object", target)
		return nil
	}
	if article.AuthorId != signer.Id {
		return fmt.Errorf("%w: %s is not the author of %s", ErrInvalidSignature, signer.URI, article.URI)
	}

	if err := d.store.TombstoneArticle(article.Id); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

func (d *Dispatcher) signerBlocked(signer *domain.Actor) bool {
	if parsed, err := url.Parse(signer.URI); err == nil {
		if d.conf.InstanceBlocked(parsed.Host) {
			return true
		}
	}
	err, inst := d.store.InstanceByDomain(actorDomain(signer))
	return err == nil && inst != nil && inst.Blocked
}

func actorDomain(a *domain.Actor) string {
	parsed, err := url.Parse(a.URI)
	if err != nil {
		return ""
	}
	return parsed.Host
}

func (d *Dispatcher) notify(kind string, actorId, targetActorId uuid.UUID, objectURI string) {
	if d.notifier == nil || actorId == targetActorId {
		return
	}
	n := &domain.Notification{
		Id:            uuid.New(),
		Kind:          kind,
		ActorId:       actorId,
		TargetActorId: targetActorId,
		ObjectURI:     objectURI,
		CreatedAt:     time.Now(),
	}
	if err := d.notifier.Notify(n); err != nil {
		log.Warn("Inbox: failed to notify", "kind", kind, "err", err)
	}
}

func (d *Dispatcher) addToTimeline(kind string, articleId, actorId uuid.UUID) {
	entry := &domain.TimelineEntry{
		Id:        uuid.New(),
		Kind:      kind,
		ArticleId: articleId,
		ActorId:   actorId,
		CreatedAt: time.Now(),
	}
	if err := d.store.AddToTimeline(entry); err != nil {
		log.Warn("Inbox: failed to add timeline entry", "kind", kind, "err", err)
	}
}
