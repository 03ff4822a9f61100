package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mkweber/inkpot/domain"
)

func newTestEnricher(t *testing.T) (*Enricher, *Dispatcher, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	conf := testConf()
	resolver := NewResolver(store, conf, noKeys{})
	dispatcher := NewDispatcher(store, resolver, NewVerifier(resolver), &fakeNotifier{}, conf)
	return NewEnricher(store, conf, resolver, dispatcher), dispatcher, store
}

func TestEnricherNotifyDropsWhenFull(t *testing.T) {
	e, _, _ := newTestEnricher(t)

	queue := cap(e.events)
	for i := 0; i < queue+3; i++ {
		e.Notify(&domain.Actor{URI: fmt.Sprintf("https://remote.example/users/u%d", i)})
	}
	// The overflow events are dropped, never blocked on.
	if len(e.events) != queue {
		t.Errorf("Expected queue to hold %d events, got %d", queue, len(e.events))
	}
}

func TestImportOutbox(t *testing.T) {
	e, _, store := newTestEnricher(t)

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorURI := server.URL + "/users/alice"
		items := make([]map[string]interface{}, 0)

		// More Creates than the import limit allows.
		for i := 0; i < 8; i++ {
			items = append(items, map[string]interface{}{
				"id":    fmt.Sprintf("%s/activities/c%d", server.URL, i),
				"type":  "Create",
				"actor": actorURI,
				"object": map[string]interface{}{
					"id":      fmt.Sprintf("%s/articles/%d", server.URL, i),
					"type":    "Article",
					"name":    fmt.Sprintf("Post %d", i),
					"content": "body",
				},
			})
		}
		// A boost and a post by someone else, both skipped.
		items = append(items,
			map[string]interface{}{
				"id": server.URL + "/activities/boost", "type": "Announce",
				"actor": actorURI, "object": "https://elsewhere.example/articles/1",
			},
			map[string]interface{}{
				"id": server.URL + "/activities/other", "type": "Create",
				"actor": "https://elsewhere.example/users/bob",
				"object": map[string]interface{}{
					"id": "https://elsewhere.example/articles/2", "type": "Article",
				},
			},
		)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"type":         "OrderedCollection",
			"orderedItems": items,
		})
	}))
	defer server.Close()

	actor := seedActor(t, store, server.URL+"/users/alice", false)
	actor.OutboxURI = server.URL + "/users/alice/outbox"
	if err := store.UpdateActorProfile(actor); err != nil {
		t.Fatalf("Failed to store actor: %v", err)
	}

	imported := e.importOutbox(context.Background(), actor)
	if imported != e.conf.Conf.MaxArticleImport {
		t.Errorf("Expected %d imports, got %d", e.conf.Conf.MaxArticleImport, imported)
	}

	err, articles := store.ArticlesByAuthor(actor.Id, 100)
	if err != nil || len(*articles) != e.conf.Conf.MaxArticleImport {
		t.Errorf("Expected %d stored articles, got %d", e.conf.Conf.MaxArticleImport, len(*articles))
	}

	// Importing again lands on the dedup ledger and changes nothing.
	if again := e.importOutbox(context.Background(), actor); again != 0 {
		t.Errorf("Expected 0 imports on rerun, got %d", again)
	}
}

func TestImportFollowers(t *testing.T) {
	e, _, store := newTestEnricher(t)

	follower1 := seedActor(t, store, "https://a.example/users/f1", false)
	follower2 := seedActor(t, store, "https://b.example/users/f2", false)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"type": "OrderedCollection",
			"orderedItems": []string{
				follower1.URI,
				follower2.URI,
			},
		})
	}))
	defer server.Close()

	actor := seedActor(t, store, server.URL+"/users/alice", false)
	actor.FollowersURI = server.URL + "/users/alice/followers"
	if err := store.UpdateActorProfile(actor); err != nil {
		t.Fatalf("Failed to store actor: %v", err)
	}

	if imported := e.importFollowers(context.Background(), actor); imported != 2 {
		t.Errorf("Expected 2 followers imported, got %d", imported)
	}

	err, follow := store.FollowByPair(follower1.Id, actor.Id)
	if err != nil || follow == nil || !follow.Accepted {
		t.Error("Expected mirrored follow to exist and be accepted")
	}

	// A second pass finds the pairs already present.
	if again := e.importFollowers(context.Background(), actor); again != 0 {
		t.Errorf("Expected 0 followers on rerun, got %d", again)
	}
}

func TestEnricherRunProcessesEvents(t *testing.T) {
	e, _, store := newTestEnricher(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"type":         "OrderedCollection",
			"orderedItems": []interface{}{},
		})
	}))
	defer server.Close()

	actor := seedActor(t, store, server.URL+"/users/alice", false)
	actor.OutboxURI = server.URL + "/users/alice/outbox"
	actor.LastFetchedAt = time.Now()
	if err := store.UpdateActorProfile(actor); err != nil {
		t.Fatalf("Failed to store actor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.Notify(actor)

	deadline := time.After(2 * time.Second)
	for len(e.events) > 0 {
		select {
		case <-deadline:
			t.Fatal("Enricher did not drain the queue in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
