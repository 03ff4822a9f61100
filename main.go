package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/mkweber/inkpot/activitypub"
	"github.com/mkweber/inkpot/db"
	"github.com/mkweber/inkpot/domain"
	"github.com/mkweber/inkpot/util"
	"github.com/mkweber/inkpot/web"
	"github.com/mkweber/inkpot/worker"
)

func main() {
	conf, err := util.ReadConf()
	if err != nil {
		log.Fatal("Failed to read configuration", "err", err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.Open(conf)
	if err != nil {
		log.Fatal("Failed to open database", "err", err)
	}
	defer database.Close()

	instanceActor, err := bootstrapInstanceActor(conf, database)
	if err != nil {
		log.Fatal("Failed to bootstrap instance actor", "err", err)
	}

	pool := worker.NewPool(conf.Conf.DeliveryWorkers, conf.Conf.DeliveryQueue)
	defer pool.Stop()

	resolver := activitypub.NewResolver(database, conf, &instanceKeys{actor: instanceActor, db: database})
	verifier := activitypub.NewVerifier(resolver)
	dispatcher := activitypub.NewDispatcher(database, resolver, verifier, database, conf)
	broadcaster := activitypub.NewBroadcaster(database, conf, pool)
	federator := activitypub.NewFederator(database, conf, resolver, broadcaster)
	enricher := activitypub.NewEnricher(database, conf, resolver, dispatcher)

	dispatcher.OnFollow = federator.AcceptFollow
	resolver.OnDiscover = enricher.Notify

	ctx, cancel := context.WithCancel(context.Background())
	go enricher.Run(ctx)

	server := web.NewServer(conf, database, dispatcher, federator)
	go func() {
		if err := server.Run(); err != nil {
			log.Fatal("HTTP server failed", "err", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Info("Shutting down")
	cancel()
	time.Sleep(time.Second)
}

// bootstrapInstanceActor makes sure the local instance and its service
// actor exist. The instance actor signs resolution traffic and represents
// the server itself to the fediverse.
func bootstrapInstanceActor(conf *util.AppConfig, database *db.DB) (*domain.Actor, error) {
	err, inst := database.EnsureInstance(conf.Conf.SslDomain, true)
	if err != nil {
		return nil, err
	}

	if err, existing := database.ActorByUsername("instance"); err == nil && existing != nil {
		return existing, nil
	}

	keypair := util.GeneratePemKeypair()

	actor := &domain.Actor{
		Id:             uuid.New(),
		URI:            conf.LocalURI("users/%s", "instance"),
		Username:       "instance",
		DisplayName:    util.GetNameAndVersion(),
		InboxURI:       conf.LocalURI("users/%s/inbox", "instance"),
		SharedInboxURI: conf.LocalURI("inbox"),
		OutboxURI:      conf.LocalURI("users/%s/outbox", "instance"),
		FollowersURI:   conf.LocalURI("users/%s/followers", "instance"),
		PublicKeyPem:   keypair.Public,
		PrivateKeyPem:  keypair.Private,
		InstanceId:     inst.Id,
		Local:          true,
		LastFetchedAt:  time.Now(),
		CreatedAt:      time.Now(),
	}
	if err := database.CreateActor(actor); err != nil {
		return nil, err
	}

	log.Info("Created instance actor", "uri", actor.URI)
	return actor, nil
}

// instanceKeys hands the instance actor's current key to the resolver,
// rereading the store so key rotation is picked up.
type instanceKeys struct {
	actor *domain.Actor
	db    *db.DB
}

func (k *instanceKeys) InstanceKey() (string, string, error) {
	if err, fresh := k.db.ActorById(k.actor.Id); err == nil && fresh != nil {
		return fresh.URI + "#main-key", fresh.PrivateKeyPem, nil
	}
	return k.actor.URI + "#main-key", k.actor.PrivateKeyPem, nil
}
