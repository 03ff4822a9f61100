package activitypub

import (
	"encoding/json"
	"fmt"
)

const (
	ActivityContext = "https://www.w3.org/ns/activitystreams"
	SecurityContext = "https://w3id.org/security/v1"
	PublicAudience  = "https://www.w3.org/ns/activitystreams#Public"
)

// ObjectRef is an activity field that may arrive either as a bare URI string
// or as an embedded object carrying an id. For Undo the embedded activity's
// own actor and object are kept, since Undo matches prior effects by
// (actor, target) pair rather than by URI.
type ObjectRef struct {
	ID     string
	Type   string
	Actor  string
	Object string
}

func (r *ObjectRef) UnmarshalJSON(b []byte) error {
	var uri string
	if err := json.Unmarshal(b, &uri); err == nil {
		r.ID = uri
		return nil
	}

	var obj struct {
		ID     string    `json:"id"`
		Type   string    `json:"type"`
		Actor  string    `json:"actor"`
		Object ObjectRef `json:"object"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	r.Type = obj.Type
	r.Actor = obj.Actor
	r.Object = obj.Object.ID
	return nil
}

// ArticleDoc is the embedded content object of a Create or Update.
type ArticleDoc struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	Content      string `json:"content"`
	Summary      string `json:"summary"`
	AttributedTo string `json:"attributedTo"`
	Published    string `json:"published"`
	Updated      string `json:"updated"`
}

// Activity is the tagged union over the variants the dispatcher applies.
// Incoming JSON is parsed once into one of the concrete types below; the
// dispatcher type-switches over them exhaustively.
type Activity interface {
	URI() string
	ActorURI() string
	TypeName() string
}

type base struct {
	ID    string
	Actor string
}

func (b base) URI() string      { return b.ID }
func (b base) ActorURI() string { return b.Actor }

type Follow struct {
	base
	Object string // URI of the actor being followed
}

type Accept struct {
	base
	Object ObjectRef // the Follow being accepted
}

type Like struct {
	base
	Object string
}

type Announce struct {
	base
	Object string
}

type Undo struct {
	base
	Object ObjectRef // the prior activity being reversed
}

type Create struct {
	base
	Object ArticleDoc
}

type Update struct {
	base
	Object ArticleDoc
}

type Delete struct {
	base
	Object ObjectRef // plain URI or a Tombstone
}

func (Follow) TypeName() string   { return "Follow" }
func (Accept) TypeName() string   { return "Accept" }
func (Like) TypeName() string     { return "Like" }
func (Announce) TypeName() string { return "Announce" }
func (Undo) TypeName() string     { return "Undo" }
func (Create) TypeName() string   { return "Create" }
func (Update) TypeName() string   { return "Update" }
func (Delete) TypeName() string   { return "Delete" }

type envelope struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  ObjectRef       `json:"actor"`
	Object json.RawMessage `json:"object"`
}

// ParseActivity parses an incoming document into the tagged union. The actor
// field may be a URI or an embedded actor object.
func ParseActivity(body []byte) (Activity, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse activity: %w", err)
	}

	if env.Actor.ID == "" {
		return nil, fmt.Errorf("activity has no actor")
	}

	b := base{ID: env.ID, Actor: env.Actor.ID}

	switch env.Type {
	case "Follow":
		var ref ObjectRef
		if err := json.Unmarshal(env.Object, &ref); err != nil {
			return nil, fmt.Errorf("failed to parse Follow object: %w", err)
		}
		return Follow{base: b, Object: ref.ID}, nil

	case "Accept":
		var ref ObjectRef
		if err := json.Unmarshal(env.Object, &ref); err != nil {
			return nil, fmt.Errorf("failed to parse Accept object: %w", err)
		}
		return Accept{base: b, Object: ref}, nil

	case "Like":
		var ref ObjectRef
		if err := json.Unmarshal(env.Object, &ref); err != nil {
			return nil, fmt.Errorf("failed to parse Like object: %w", err)
		}
		return Like{base: b, Object: ref.ID}, nil

	case "Announce":
		var ref ObjectRef
		if err := json.Unmarshal(env.Object, &ref); err != nil {
			return nil, fmt.Errorf("failed to parse Announce object: %w", err)
		}
		return Announce{base: b, Object: ref.ID}, nil

	case "Undo":
		var ref ObjectRef
		if err := json.Unmarshal(env.Object, &ref); err != nil {
			return nil, fmt.Errorf("failed to parse Undo object: %w", err)
		}
		// The embedded activity's actor defaults to the outer actor when
		// the remote ships only a URI reference.
		if ref.Actor == "" {
			ref.Actor = b.Actor
		}
		return Undo{base: b, Object: ref}, nil

	case "Create", "Update":
		var doc ArticleDoc
		if err := json.Unmarshal(env.Object, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s object: %w", env.Type, err)
		}
		if b.ID == "" {
			// Some implementations omit the activity id; fall back to the
			// object id so dedup still has a key.
			b.ID = doc.ID
		}
		if env.Type == "Create" {
			return Create{base: b, Object: doc}, nil
		}
		return Update{base: b, Object: doc}, nil

	case "Delete":
		var ref ObjectRef
		if err := json.Unmarshal(env.Object, &ref); err != nil {
			return nil, fmt.Errorf("failed to parse Delete object: %w", err)
		}
		return Delete{base: b, Object: ref}, nil

	default:
		return nil, fmt.Errorf("unsupported activity type %q", env.Type)
	}
}
