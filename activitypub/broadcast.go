package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/mkweber/inkpot/domain"
	"github.com/mkweber/inkpot/metrics"
	"github.com/mkweber/inkpot/util"
)

// Pool is the background-dispatch collaborator deliveries run on. Submit
// must not block; a full pool drops the task and the broadcaster treats the
// drop like any other failed delivery.
type Pool interface {
	Submit(task func()) bool
	SubmitAfter(delay time.Duration, task func()) bool
}

// Broadcaster fans a signed activity out to remote inboxes. Delivery is
// at-most-once per inbox: the payload is serialized once, inboxes are
// deduplicated with shared inboxes preferred, and failures are logged and
// dropped rather than retried into a different ordering.
type Broadcaster struct {
	store  Store
	conf   *util.AppConfig
	pool   Pool
	client *retryablehttp.Client
}

func NewBroadcaster(store Store, conf *util.AppConfig, pool Pool) *Broadcaster {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil

	return &Broadcaster{store: store, conf: conf, pool: pool, client: client}
}

// Broadcast serializes the activity once and schedules one delivery per
// distinct inbox. Returns the number of deliveries scheduled.
func (b *Broadcaster) Broadcast(activity map[string]interface{}, sender *domain.Actor, recipients []domain.Actor) int {
	payload, err := json.Marshal(activity)
	if err != nil {
		log.Error("Broadcast: failed to marshal activity", "err", err)
		return 0
	}

	scheduled := 0
	for _, inbox := range collectInboxes(recipients) {
		inbox := inbox
		if !b.pool.Submit(func() { b.deliver(payload, inbox, sender) }) {
			log.Warn("Broadcast: delivery pool full, dropping", "inbox", inbox)
			metrics.DeliveriesDropped.Inc()
			continue
		}
		scheduled++
	}
	return scheduled
}

// BroadcastAfter is Broadcast with a delay, for effects that must not land
// immediately (key rotation follows article deletion this way).
func (b *Broadcaster) BroadcastAfter(delay time.Duration, activity map[string]interface{}, sender *domain.Actor, recipients []domain.Actor) int {
	payload, err := json.Marshal(activity)
	if err != nil {
		log.Error("Broadcast: failed to marshal activity", "err", err)
		return 0
	}

	scheduled := 0
	for _, inbox := range collectInboxes(recipients) {
		inbox := inbox
		if !b.pool.SubmitAfter(delay, func() { b.deliver(payload, inbox, sender) }) {
			log.Warn("Broadcast: delivery pool full, dropping", "inbox", inbox)
			metrics.DeliveriesDropped.Inc()
			continue
		}
		scheduled++
	}
	return scheduled
}

// ScheduleKeyRotation replaces the actor's keypair after a delay. Deferred
// so that signed activities still in flight verify against the old key.
func (b *Broadcaster) ScheduleKeyRotation(actor *domain.Actor, delay time.Duration) {
	actorId := actor.Id
	ok := b.pool.SubmitAfter(delay, func() {
		keypair := util.GeneratePemKeypair()
		if err := b.store.UpdateActorKeys(actorId, keypair.Public, keypair.Private); err != nil {
			log.Error("KeyRotation: failed to store keypair", "actor", actorId, "err", err)
			return
		}
		log.Info("KeyRotation: rotated keys", "actor", actorId)
	})
	if !ok {
		log.Warn("KeyRotation: pool full, rotation skipped", "actor", actorId)
	}
}

// collectInboxes deduplicates recipient inboxes, preferring a shared inbox
// when the recipient advertises one. Several followers on one server then
// collapse into a single delivery.
func collectInboxes(recipients []domain.Actor) []string {
	seen := make(map[string]bool, len(recipients))
	inboxes := make([]string, 0, len(recipients))
	for _, rec := range recipients {
		if rec.Local || rec.Tombstoned {
			continue
		}
		inbox := rec.InboxURI
		if rec.SharedInboxURI != "" {
			inbox = rec.SharedInboxURI
		}
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		inboxes = append(inboxes, inbox)
	}
	return inboxes
}

// deliver posts one signed payload to one inbox. Failures are terminal for
// this delivery; they are logged and counted, never requeued.
func (b *Broadcaster) deliver(payload []byte, inboxURI string, sender *domain.Actor) {
	if err := b.post(payload, inboxURI, sender); err != nil {
		log.Warn("Broadcast: delivery failed", "inbox", inboxURI, "err", err)
		metrics.DeliveriesFailed.Inc()
		return
	}
	metrics.DeliveriesSent.Inc()
	log.Debug("Broadcast: delivered", "inbox", inboxURI)
}

func (b *Broadcaster) post(payload []byte, inboxURI string, sender *domain.Actor) error {
	req, err := retryablehttp.NewRequest("POST", inboxURI, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	privateKey, err := ParsePrivateKey(sender.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	keyId := sender.URI + "#main-key"
	if err := SignRequest(req.Request, payload, privateKey, keyId); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}
	return nil
}
