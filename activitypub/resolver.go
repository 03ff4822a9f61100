package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/mkweber/inkpot/domain"
	"github.com/mkweber/inkpot/util"
)

// actorDoc is the JSON shape of a remote ActivityPub actor document.
type actorDoc struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Followers         string      `json:"followers"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// collectionDoc is the JSON shape of an outbox or followers collection. Both
// paged and unpaged collections are handled; only the first page is read.
type collectionDoc struct {
	Type         string            `json:"type"`
	TotalItems   int               `json:"totalItems"`
	First        json.RawMessage   `json:"first"`
	Items        []json.RawMessage `json:"items"`
	OrderedItems []json.RawMessage `json:"orderedItems"`
}

// KeyProvider hands out the local key material used to sign outbound fetches.
// The instance actor signs resolution traffic so strict remotes accept it.
type KeyProvider interface {
	InstanceKey() (keyId string, privatePem string, err error)
}

// Resolver turns actor and object URIs into local rows. Lookups are
// local-first; blocked instances fail fast before any network call.
type Resolver struct {
	store  Store
	conf   *util.AppConfig
	keys   KeyProvider
	client *retryablehttp.Client

	// OnDiscover fires after a previously unknown remote actor has been
	// persisted. The enrichment worker hangs off this hook.
	OnDiscover func(actor *domain.Actor)
}

func NewResolver(store Store, conf *util.AppConfig, keys KeyProvider) *Resolver {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = 15 * time.Second
	client.Logger = nil

	if conf.Conf.Proxy != "" {
		if proxyURL, err := url.Parse(conf.Conf.Proxy); err == nil {
			client.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		} else {
			log.Warn("Resolver: invalid proxy url, going direct", "proxy", conf.Conf.Proxy)
		}
	}

	return &Resolver{store: store, conf: conf, keys: keys, client: client}
}

// ResolveActor returns the actor for a URI, fetching and persisting it when
// unknown. Known actors are served from the store without touching the
// network, stale or not; refreshing is the enrichment worker's job.
func (rs *Resolver) ResolveActor(ctx context.Context, actorURI string) (*domain.Actor, error) {
	if err, cached := rs.store.ActorByURI(actorURI); err == nil && cached != nil {
		if cached.Tombstoned {
			return nil, fmt.Errorf("%w: actor %s is deleted", ErrNotFound, actorURI)
		}
		return cached, nil
	}
	return rs.RefetchActor(ctx, actorURI)
}

// RefetchActor fetches an actor document from origin unconditionally and
// persists it, overwriting the mutable fields of an existing row. This is
// the path key rotation recovery and profile refresh go through.
func (rs *Resolver) RefetchActor(ctx context.Context, actorURI string) (*domain.Actor, error) {
	domainName, err := rs.checkOrigin(actorURI)
	if err != nil {
		return nil, err
	}

	body, err := rs.getJSON(ctx, actorURI)
	if err != nil {
		return nil, err
	}

	var doc actorDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse actor document: %v", ErrFetch, err)
	}
	if doc.ID == "" || doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("%w: actor document missing required fields", ErrFetch)
	}
	switch doc.Type {
	case "Person", "Service", "Application", "Group", "Organization":
	default:
		return nil, fmt.Errorf("%w: got %q, want an actor type", ErrTypeMismatch, doc.Type)
	}

	err, inst := rs.store.EnsureInstance(domainName, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if inst.Blocked {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, domainName)
	}

	actor := &domain.Actor{
		Id:             uuid.New(),
		URI:            doc.ID,
		Username:       doc.PreferredUsername,
		DisplayName:    doc.Name,
		Summary:        doc.Summary,
		InboxURI:       doc.Inbox,
		SharedInboxURI: doc.Endpoints.SharedInbox,
		OutboxURI:      doc.Outbox,
		FollowersURI:   doc.Followers,
		PublicKeyPem:   doc.PublicKey.PublicKeyPem,
		InstanceId:     inst.Id,
		LastFetchedAt:  time.Now(),
	}

	err, existing := rs.store.ActorByURI(doc.ID)
	if err == nil && existing != nil {
		actor.Id = existing.Id
		actor.CreatedAt = existing.CreatedAt
		if err := rs.store.UpdateActorProfile(actor); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
		return actor, nil
	}

	actor.CreatedAt = time.Now()
	if err := rs.store.CreateActor(actor); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if rs.OnDiscover != nil {
		rs.OnDiscover(actor)
	}
	return actor, nil
}

// ResolveArticle returns the article for a URI, fetching the remote object
// when unknown. The author is resolved first so the row can be attributed.
func (rs *Resolver) ResolveArticle(ctx context.Context, articleURI string) (*domain.Article, error) {
	if err, cached := rs.store.ArticleByURI(articleURI); err == nil && cached != nil {
		if cached.Tombstoned {
			return nil, fmt.Errorf("%w: article %s is deleted", ErrNotFound, articleURI)
		}
		return cached, nil
	}

	if _, err := rs.checkOrigin(articleURI); err != nil {
		return nil, err
	}

	body, err := rs.getJSON(ctx, articleURI)
	if err != nil {
		return nil, err
	}

	var doc ArticleDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse object document: %v", ErrFetch, err)
	}
	if doc.ID == "" || doc.AttributedTo == "" {
		return nil, fmt.Errorf("%w: object document missing required fields", ErrFetch)
	}
	switch doc.Type {
	case "Article", "Note", "Page":
	default:
		return nil, fmt.Errorf("%w: got %q, want a content type", ErrTypeMismatch, doc.Type)
	}

	author, err := rs.ResolveActor(ctx, doc.AttributedTo)
	if err != nil {
		return nil, err
	}

	article := &domain.Article{
		Id:        uuid.New(),
		URI:       doc.ID,
		AuthorId:  author.Id,
		Title:     doc.Name,
		Content:   doc.Content,
		Summary:   doc.Summary,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if t, err := time.Parse(time.RFC3339, doc.Published); err == nil {
		article.CreatedAt = t
		article.UpdatedAt = t
	}

	if err := rs.store.CreateArticle(article); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return article, nil
}

// FetchOutbox fetches an actor's outbox and returns its first page of raw
// activity documents, for enrichment import.
func (rs *Resolver) FetchOutbox(ctx context.Context, actor *domain.Actor) ([]json.RawMessage, error) {
	if actor.OutboxURI == "" {
		return nil, nil
	}
	return rs.fetchCollection(ctx, actor.OutboxURI)
}

// FetchFollowerIDs fetches an actor's followers collection and returns the
// actor URIs on its first page.
func (rs *Resolver) FetchFollowerIDs(ctx context.Context, actor *domain.Actor) ([]string, error) {
	if actor.FollowersURI == "" {
		return nil, nil
	}
	items, err := rs.fetchCollection(ctx, actor.FollowersURI)
	if err != nil {
		return nil, err
	}

	uris := make([]string, 0, len(items))
	for _, item := range items {
		var ref ObjectRef
		if err := json.Unmarshal(item, &ref); err != nil || ref.ID == "" {
			continue
		}
		uris = append(uris, ref.ID)
	}
	return uris, nil
}

func (rs *Resolver) fetchCollection(ctx context.Context, uri string) ([]json.RawMessage, error) {
	if _, err := rs.checkOrigin(uri); err != nil {
		return nil, err
	}

	body, err := rs.getJSON(ctx, uri)
	if err != nil {
		return nil, err
	}

	var doc collectionDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse collection: %v", ErrFetch, err)
	}

	items := doc.OrderedItems
	if items == nil {
		items = doc.Items
	}
	if items != nil {
		return items, nil
	}

	// Paged collection: follow the first page, one hop only.
	if doc.First == nil {
		return nil, nil
	}
	var firstURI string
	if err := json.Unmarshal(doc.First, &firstURI); err != nil {
		// The first page may be embedded instead of linked.
		var page collectionDoc
		if err := json.Unmarshal(doc.First, &page); err != nil {
			return nil, fmt.Errorf("%w: failed to parse collection page: %v", ErrFetch, err)
		}
		if page.OrderedItems != nil {
			return page.OrderedItems, nil
		}
		return page.Items, nil
	}

	body, err = rs.getJSON(ctx, firstURI)
	if err != nil {
		return nil, err
	}
	var page collectionDoc
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: failed to parse collection page: %v", ErrFetch, err)
	}
	if page.OrderedItems != nil {
		return page.OrderedItems, nil
	}
	return page.Items, nil
}

// checkOrigin rejects URIs on blocked instances before any network traffic.
// Both the config blocklist and the per-instance flag are consulted.
func (rs *Resolver) checkOrigin(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("%w: invalid uri %q", ErrFetch, uri)
	}

	domainName := parsed.Host
	if rs.conf.InstanceBlocked(domainName) {
		return "", fmt.Errorf("%w: %s", ErrBlocked, domainName)
	}
	if err, inst := rs.store.InstanceByDomain(domainName); err == nil && inst != nil && inst.Blocked {
		return "", fmt.Errorf("%w: %s", ErrBlocked, domainName)
	}
	return domainName, nil
}

// getJSON performs a signed GET and returns the response body. Resolution
// traffic is signed with the instance actor key since several large servers
// reject unsigned fetches.
func (rs *Resolver) getJSON(ctx context.Context, uri string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if keyId, privatePem, err := rs.keys.InstanceKey(); err == nil {
		if privateKey, err := ParsePrivateKey(privatePem); err == nil {
			if err := SignRequest(req.Request, nil, privateKey, keyId); err != nil {
				log.Debug("Resolver: could not sign fetch, sending unsigned", "uri", uri, "err", err)
			}
		}
	}

	resp, err := rs.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("%w: %s is gone", ErrNotFound, uri)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetch, uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return body, nil
}
