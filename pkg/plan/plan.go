// Package plan groups a popped batch of events into the bulk operations the
// store projector commits in one transaction.
package plan

import (
	"database/sql"
	"fmt"

	"go.grapht.network/grapht/pkg/event"
)

// NamePair is an edge between two users identified by name.
type NamePair struct {
	A string
	B string
}

// LogRecord is one transaction-log row before id resolution.
type LogRecord struct {
	Subject string // user the log row is attributed to
	Kind    event.Kind
	Raw     []byte
}

// Batch is the grouped representation of one popped batch.
// The operation lists preserve input order; NewUsers holds every name
// referenced by any event, first occurrence first.
type Batch struct {
	NewUsers      []string
	Referrals     []NamePair // (referrer, referred), directed
	Friendships   []NamePair
	Unfriendships []NamePair
	Logs          []LogRecord

	// friendOps keeps the interleaved input order of addfriend/unfriend
	// operations, which the split lists above cannot express.
	friendOps []friendOp
	seen      map[string]struct{}
}

type friendOp struct {
	edge NamePair
	kind event.Kind
}

// Events returns the number of events that went into the batch.
func (b *Batch) Events() int { return len(b.Logs) }

// Empty reports whether the batch contains no operations at all.
func (b *Batch) Empty() bool { return len(b.Logs) == 0 }

func (b *Batch) addUser(name string) {
	if _, ok := b.seen[name]; ok {
		return
	}
	b.seen[name] = struct{}{}
	b.NewUsers = append(b.NewUsers, name)
}

// New plans a batch of decoded events.
func New(events []event.Event) *Batch {
	b := &Batch{seen: make(map[string]struct{}, len(events))}
	for _, ev := range events {
		switch e := ev.(type) {
		case event.Register:
			b.addUser(e.Name)
			b.Logs = append(b.Logs, LogRecord{Subject: e.Name, Kind: e.Kind(), Raw: e.Payload()})
		case event.Referral:
			b.addUser(e.ReferredBy)
			b.addUser(e.User)
			b.Referrals = append(b.Referrals, NamePair{A: e.ReferredBy, B: e.User})
			b.Logs = append(b.Logs, LogRecord{Subject: e.User, Kind: e.Kind(), Raw: e.Payload()})
		case event.AddFriend:
			b.addUser(e.User1)
			b.addUser(e.User2)
			b.Friendships = append(b.Friendships, NamePair{A: e.User1, B: e.User2})
			b.friendOps = append(b.friendOps, friendOp{edge: NamePair{A: e.User1, B: e.User2}, kind: e.Kind()})
			b.Logs = append(b.Logs, LogRecord{Subject: e.User1, Kind: e.Kind(), Raw: e.Payload()})
		case event.Unfriend:
			b.addUser(e.User1)
			b.addUser(e.User2)
			b.Unfriendships = append(b.Unfriendships, NamePair{A: e.User1, B: e.User2})
			b.friendOps = append(b.friendOps, friendOp{edge: NamePair{A: e.User1, B: e.User2}, kind: e.Kind()})
			b.Logs = append(b.Logs, LogRecord{Subject: e.User1, Kind: e.Kind(), Raw: e.Payload()})
		}
	}
	return b
}

// IDPair is an edge between two resolved user ids.
type IDPair struct {
	ID1 int64 `db:"user1_id"`
	ID2 int64 `db:"user2_id"`
}

// canonical orders an undirected pair as (min, max).
func canonical(id1, id2 int64) IDPair {
	if id2 < id1 {
		id1, id2 = id2, id1
	}
	return IDPair{ID1: id1, ID2: id2}
}

// ResolvedLog is one transaction-log row ready for insertion.
type ResolvedLog struct {
	UserID sql.NullInt64 `db:"user_id"`
	Kind   string        `db:"transaction_type"`
	Data   string        `db:"transaction_data"`
}

// Resolved is a Batch with all names replaced by user ids, friendship pairs
// canonicalized, and friend/unfriend runs coalesced per pair.
type Resolved struct {
	Referrals     []IDPair // directed (referrer, referred)
	Friendships   []IDPair // canonical, deduplicated
	Unfriendships []IDPair // canonical, deduplicated
	Logs          []ResolvedLog
}

// Empty reports whether nothing would be written.
func (r *Resolved) Empty() bool {
	return len(r.Referrals) == 0 && len(r.Friendships) == 0 &&
		len(r.Unfriendships) == 0 && len(r.Logs) == 0
}

// Resolve maps the batch onto user ids. Every name in the batch must be
// present in ids.
//
// Friend/unfriend operations on the same pair are coalesced so that the
// projector's fixed statement order (friendship upserts before unfriend
// updates) terminates each pair in the status of its last operation:
// a pair goes into Friendships if any addfriend touched it, and into
// Unfriendships only if an unfriend was its final operation.
func (b *Batch) Resolve(ids map[string]int64) (*Resolved, error) {
	lookup := func(name string) (int64, error) {
		id, ok := ids[name]
		if !ok {
			return 0, fmt.Errorf("unresolved user name: %q", name)
		}
		return id, nil
	}
	res := &Resolved{}

	seenReferrals := make(map[IDPair]struct{}, len(b.Referrals))
	for _, edge := range b.Referrals {
		referrer, err := lookup(edge.A)
		if err != nil {
			return nil, err
		}
		referred, err := lookup(edge.B)
		if err != nil {
			return nil, err
		}
		pair := IDPair{ID1: referrer, ID2: referred}
		if _, ok := seenReferrals[pair]; ok {
			continue
		}
		seenReferrals[pair] = struct{}{}
		res.Referrals = append(res.Referrals, pair)
	}

	// Replay friendship operations in input order per canonical pair.
	type pairState struct {
		added    bool
		terminal event.Kind
	}
	order := make([]IDPair, 0, len(b.Friendships))
	states := make(map[IDPair]*pairState, len(b.Friendships))
	for _, op := range b.friendOps {
		id1, err := lookup(op.edge.A)
		if err != nil {
			return nil, err
		}
		id2, err := lookup(op.edge.B)
		if err != nil {
			return nil, err
		}
		pair := canonical(id1, id2)
		state, ok := states[pair]
		if !ok {
			state = &pairState{}
			states[pair] = state
			order = append(order, pair)
		}
		if op.kind == event.KindAddFriend {
			state.added = true
		}
		state.terminal = op.kind
	}
	for _, pair := range order {
		state := states[pair]
		if state.added {
			res.Friendships = append(res.Friendships, pair)
		}
		if state.terminal == event.KindUnfriend {
			res.Unfriendships = append(res.Unfriendships, pair)
		}
	}

	for _, rec := range b.Logs {
		id, err := lookup(rec.Subject)
		if err != nil {
			return nil, err
		}
		res.Logs = append(res.Logs, ResolvedLog{
			UserID: sql.NullInt64{Int64: id, Valid: true},
			Kind:   string(rec.Kind),
			Data:   string(rec.Raw),
		})
	}
	return res, nil
}
