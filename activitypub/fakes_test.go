package activitypub

import (
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mkweber/inkpot/domain"
	"github.com/mkweber/inkpot/util"
)

// fakeStore is an in-memory Store for dispatcher and federator tests.
type fakeStore struct {
	mu            sync.Mutex
	actors        map[string]*domain.Actor
	instances     map[string]*domain.Instance
	articles      map[string]*domain.Article
	follows       []*domain.Follow
	likes         []*domain.Like
	reshares      []*domain.Reshare
	inboxRecords  map[string]bool
	notifications []*domain.Notification
	timeline      []*domain.TimelineEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		actors:       make(map[string]*domain.Actor),
		instances:    make(map[string]*domain.Instance),
		articles:     make(map[string]*domain.Article),
		inboxRecords: make(map[string]bool),
	}
}

func (s *fakeStore) ActorByURI(uri string) (error, *domain.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.actors[uri]; ok {
		copied := *a
		return nil, &copied
	}
	return sql.ErrNoRows, nil
}

func (s *fakeStore) ActorById(id uuid.UUID) (error, *domain.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		if a.Id == id {
			copied := *a
			return nil, &copied
		}
	}
	return sql.ErrNoRows, nil
}

func (s *fakeStore) ActorByUsername(username string) (error, *domain.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		if a.Username == username && a.Local {
			copied := *a
			return nil, &copied
		}
	}
	return sql.ErrNoRows, nil
}

func (s *fakeStore) CreateActor(a *domain.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actors[a.URI]; exists {
		return nil
	}
	copied := *a
	s.actors[a.URI] = &copied
	return nil
}

func (s *fakeStore) UpdateActorProfile(a *domain.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *a
	s.actors[a.URI] = &copied
	return nil
}

func (s *fakeStore) UpdateActorKeys(id uuid.UUID, publicPem, privatePem string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		if a.Id == id {
			a.PublicKeyPem = publicPem
			a.PrivateKeyPem = privatePem
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *fakeStore) TombstoneActor(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		if a.Id == id {
			a.Tombstoned = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *fakeStore) EnsureInstance(publicDomain string, local bool) (error, *domain.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[publicDomain]; ok {
		copied := *inst
		return nil, &copied
	}
	inst := &domain.Instance{Id: uuid.New(), PublicDomain: publicDomain, Local: local}
	s.instances[publicDomain] = inst
	copied := *inst
	return nil, &copied
}

func (s *fakeStore) InstanceByDomain(publicDomain string) (error, *domain.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[publicDomain]; ok {
		copied := *inst
		return nil, &copied
	}
	return sql.ErrNoRows, nil
}

func (s *fakeStore) ArticleByURI(uri string) (error, *domain.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.articles[uri]; ok {
		copied := *a
		return nil, &copied
	}
	return sql.ErrNoRows, nil
}

func (s *fakeStore) ArticleById(id uuid.UUID) (error, *domain.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.articles {
		if a.Id == id {
			copied := *a
			return nil, &copied
		}
	}
	return sql.ErrNoRows, nil
}

func (s *fakeStore) ArticlesByAuthor(authorId uuid.UUID, limit int) (error, *[]domain.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Article
	for _, a := range s.articles {
		if a.AuthorId == authorId && !a.Tombstoned && len(out) < limit {
			out = append(out, *a)
		}
	}
	return nil, &out
}

func (s *fakeStore) RecentArticles(limit int) (error, *[]domain.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Article
	for _, a := range s.articles {
		if !a.Tombstoned && len(out) < limit {
			out = append(out, *a)
		}
	}
	return nil, &out
}

func (s *fakeStore) CreateArticle(a *domain.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.articles[a.URI]; exists {
		return nil
	}
	copied := *a
	s.articles[a.URI] = &copied
	return nil
}

func (s *fakeStore) UpdateArticle(a *domain.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *a
	s.articles[a.URI] = &copied
	return nil
}

func (s *fakeStore) TombstoneArticle(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.articles {
		if a.Id == id {
			a.Tombstoned = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *fakeStore) FollowByPair(actorId, targetActorId uuid.UUID) (error, *domain.Follow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.follows {
		if f.ActorId == actorId && f.TargetActorId == targetActorId {
			copied := *f
			return nil, &copied
		}
	}
	return sql.ErrNoRows, nil
}

func (s *fakeStore) FollowByURI(uri string) (error, *domain.Follow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.follows {
		if f.URI == uri {
			copied := *f
			return nil, &copied
		}
	}
	return sql.ErrNoRows, nil
}

func (s *fakeStore) FollowersOf(actorId uuid.UUID) (error, *[]domain.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Actor
	for _, f := range s.follows {
		if f.TargetActorId != actorId || !f.Accepted {
			continue
		}
		for _, a := range s.actors {
			if a.Id == f.ActorId && !a.Tombstoned {
				out = append(out, *a)
			}
		}
	}
	return nil, &out
}

func (s *fakeStore) CreateFollow(f *domain.Follow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.follows {
		if existing.ActorId == f.ActorId && existing.TargetActorId == f.TargetActorId {
			return nil
		}
	}
	copied := *f
	s.follows = append(s.follows, &copied)
	return nil
}

func (s *fakeStore) AcceptFollowByURI(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.follows {
		if f.URI == uri {
			f.Accepted = true
		}
	}
	return nil
}

func (s *fakeStore) DeleteFollow(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.follows {
		if f.Id == id {
			s.follows = append(s.follows[:i], s.follows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) LikeByPair(actorId, articleId uuid.UUID) (error, *domain.Like) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.likes {
		if l.ActorId == actorId && l.ArticleId == articleId {
			copied := *l
			return nil, &copied
		}
	}
	return sql.ErrNoRows, nil
}

func (s *fakeStore) CreateLike(l *domain.Like) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *l
	s.likes = append(s.likes, &copied)
	return nil
}

func (s *fakeStore) DeleteLike(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.likes {
		if l.Id == id {
			s.likes = append(s.likes[:i], s.likes[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) ReshareByPair(actorId, articleId uuid.UUID) (error, *domain.Reshare) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reshares {
		if r.ActorId == actorId && r.ArticleId == articleId {
			copied := *r
			return nil, &copied
		}
	}
	return sql.ErrNoRows, nil
}

func (s *fakeStore) CreateReshare(r *domain.Reshare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *r
	s.reshares = append(s.reshares, &copied)
	return nil
}

func (s *fakeStore) DeleteReshare(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.reshares {
		if r.Id == id {
			s.reshares = append(s.reshares[:i], s.reshares[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) InboxRecordExists(activityURI string) (error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nil, s.inboxRecords[activityURI]
}

func (s *fakeStore) CreateInboxRecord(rec *domain.InboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboxRecords[rec.ActivityURI] = true
	return nil
}

func (s *fakeStore) AddToTimeline(entry *domain.TimelineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	s.timeline = append(s.timeline, &copied)
	return nil
}

// fakeNotifier records notifications without a database.
type fakeNotifier struct {
	mu            sync.Mutex
	notifications []*domain.Notification
}

func (n *fakeNotifier) Notify(notification *domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return nil
}

// fakePool runs submitted tasks synchronously.
type fakePool struct {
	mu        sync.Mutex
	submitted int
	full      bool
}

func (p *fakePool) Submit(task func()) bool {
	p.mu.Lock()
	if p.full {
		p.mu.Unlock()
		return false
	}
	p.submitted++
	p.mu.Unlock()
	task()
	return true
}

func (p *fakePool) SubmitAfter(delay time.Duration, task func()) bool {
	return p.Submit(task)
}

func testConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.SslDomain = "inkpot.example"
	conf.Conf.EnrichWorkers = 2
	conf.Conf.EnrichQueue = 4
	conf.Conf.MaxArticleImport = 5
	conf.Conf.KeyRotationDelayMin = 1
	return conf
}
