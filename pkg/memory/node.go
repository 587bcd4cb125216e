// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/westodyssey/westodyssey/pkg/errors"
)

// AnySeq disables the optimistic head check in Node.Post.
const AnySeq = -1

// Node is the blackboard shared by the role agents. Every session is an
// append-only log with a dense, 1-based Seq. Node is safe for concurrent use.
type Node struct {
	store  Store
	recall *VectorMemory
	logger *slog.Logger
	now    func() time.Time
	buffer int

	mu       sync.Mutex
	sessions map[string]*sessionState
	subs     map[int]*subscriber
	nextSub  int
}

type sessionState struct {
	mu     sync.Mutex
	loaded bool
	head   int
}

type subscriber struct {
	session string
	ch      chan Entry
	dropped int
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithRecall archives every posted entry into vm and enables Node.Recall.
func WithRecall(vm *VectorMemory) NodeOption {
	return func(n *Node) {
		n.recall = vm
	}
}

// WithLogger sets the node logger.
func WithLogger(logger *slog.Logger) NodeOption {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) NodeOption {
	return func(n *Node) {
		n.now = now
	}
}

// WithSubscriberBuffer sets the channel size handed to subscribers.
func WithSubscriberBuffer(size int) NodeOption {
	return func(n *Node) {
		if size > 0 {
			n.buffer = size
		}
	}
}

// NewNode creates a node in front of store.
func NewNode(store Store, opts ...NodeOption) *Node {
	n := &Node{
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
		buffer:   64,
		sessions: make(map[string]*sessionState),
		subs:     make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Store returns the backing store.
func (n *Node) Store() Store {
	return n.store
}

func (n *Node) state(session string) *sessionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.sessions[session]
	if !ok {
		st = &sessionState{}
		n.sessions[session] = st
	}
	return st
}

// headLocked returns the session head; st.mu must be held.
func (n *Node) headLocked(ctx context.Context, session string, st *sessionState) (int, error) {
	if st.loaded {
		return st.head, nil
	}
	entries, err := n.store.Load(ctx, session)
	if err != nil {
		return 0, errors.New(errors.CodeMemoryError, "load session", err).WithContext("session", session)
	}
	if len(entries) > 0 {
		st.head = entries[len(entries)-1].Seq
	}
	st.loaded = true
	return st.head, nil
}

// Post appends entry to session. When expectedSeq is not AnySeq it must
// equal the current head, otherwise the post fails with CodeConflict and
// nothing is written. Post assigns Seq, ID and CreatedAt and returns the
// stored entry.
func (n *Node) Post(ctx context.Context, session string, entry Entry, expectedSeq int) (Entry, error) {
	if strings.TrimSpace(session) == "" {
		return Entry{}, errors.New(errors.CodeInvalidInput, "session is required", nil)
	}
	if !entry.Kind.Valid() {
		return Entry{}, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown entry kind %q", entry.Kind), nil)
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, errors.New(errors.CodeContextLost, "post cancelled", err)
	}

	st := n.state(session)
	st.mu.Lock()
	var stored Entry
	for attempt := 0; ; attempt++ {
		head, err := n.headLocked(ctx, session, st)
		if err != nil {
			st.mu.Unlock()
			return Entry{}, err
		}
		if expectedSeq != AnySeq && expectedSeq != head {
			st.mu.Unlock()
			return Entry{}, conflictError(session, expectedSeq, head)
		}

		stored = entry.clone()
		stored.Session = session
		stored.Seq = head + 1
		stored.ID = uuid.NewString()
		stored.CreatedAt = n.now().UTC()
		err = n.append(ctx, session, head, stored)
		if err == nil {
			st.head = stored.Seq
			break
		}
		// Either another writer moved the head or the store may hold a
		// partial write; both force a reload next time.
		st.loaded = false
		if stderrors.Is(err, ErrConflict) {
			if expectedSeq == AnySeq && attempt < maxPostAttempts {
				continue
			}
			st.mu.Unlock()
			return Entry{}, conflictError(session, expectedSeq, head)
		}
		st.mu.Unlock()
		return Entry{}, errors.New(errors.CodeMemoryError, "append entry", err).WithContext("session", session)
	}
	// Publishing under the session lock keeps subscribers in Seq order.
	n.publish(stored)
	st.mu.Unlock()

	if n.recall != nil && stored.Content != "" {
		if err := n.recall.Archive(ctx, stored); err != nil {
			n.logger.WarnContext(ctx, "memory.archive.failed",
				slog.String("session", session),
				slog.Int("seq", stored.Seq),
				slog.String("error", err.Error()),
			)
		}
	}
	return stored.clone(), nil
}

const maxPostAttempts = 8

// append writes through the store's head check when it has one.
func (n *Node) append(ctx context.Context, session string, head int, e Entry) error {
	if ha, ok := n.store.(HeadAppender); ok {
		return ha.AppendAt(ctx, session, head, e)
	}
	return n.store.Append(ctx, session, e)
}

func conflictError(session string, expectedSeq, head int) error {
	return errors.New(errors.CodeConflict, "stale head", ErrConflict).
		WithContext("session", session).
		WithContext("expected_seq", expectedSeq).
		WithContext("head", head)
}

// Head returns the Seq of the last entry of session, 0 when empty. The
// store is read again so writes from other processes are seen.
func (n *Node) Head(ctx context.Context, session string) (int, error) {
	st := n.state(session)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.loaded = false
	return n.headLocked(ctx, session, st)
}

// Entries returns the session entries matching filter, in Seq order.
func (n *Node) Entries(ctx context.Context, session string, filter Filter) ([]Entry, error) {
	all, err := n.store.Load(ctx, session)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "load session", err).WithContext("session", session)
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if filter.match(e) {
			out = append(out, e)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

// Latest returns the most recent entry of kind.
func (n *Node) Latest(ctx context.Context, session string, kind Kind) (Entry, error) {
	entries, err := n.Entries(ctx, session, Filter{Kinds: []Kind{kind}, Limit: 1})
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, errors.New(errors.CodeNotFound, fmt.Sprintf("no %s entry", kind), ErrNotFound).
			WithContext("session", session)
	}
	return entries[0], nil
}

// Window returns the session history trimmed by strategy. A nil strategy
// returns everything.
func (n *Node) Window(ctx context.Context, session string, strategy TruncationStrategy) ([]Entry, error) {
	entries, err := n.Entries(ctx, session, Filter{})
	if err != nil || strategy == nil {
		return entries, err
	}
	return strategy.Truncate(ctx, entries)
}

// Transcript renders the whole session.
func (n *Node) Transcript(ctx context.Context, session string) (string, error) {
	entries, err := n.Entries(ctx, session, Filter{})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := Render(&b, entries); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Sessions lists stored sessions.
func (n *Node) Sessions(ctx context.Context) ([]string, error) {
	return n.store.Sessions(ctx)
}

// Delete removes a session and forgets its head.
func (n *Node) Delete(ctx context.Context, session string) error {
	st := n.state(session)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := n.store.Delete(ctx, session); err != nil {
		return errors.New(errors.CodeMemoryError, "delete session", err).WithContext("session", session)
	}
	st.loaded = true
	st.head = 0
	return nil
}

// Recall searches archived entries of every session. Without a configured
// VectorMemory it returns nothing.
func (n *Node) Recall(ctx context.Context, query string, limit int) ([]Recollection, error) {
	if n.recall == nil {
		return nil, nil
	}
	recs, err := n.recall.Recall(ctx, query, limit)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "recall", err).WithRecoverable(true)
	}
	return recs, nil
}

// Subscribe streams entries posted after the call. An empty session
// subscribes to every session. Delivery never blocks posters: when the
// channel is full the entry is dropped for that subscriber. The returned
// cancel func closes the channel.
func (n *Node) Subscribe(session string) (<-chan Entry, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextSub
	n.nextSub++
	sub := &subscriber{session: session, ch: make(chan Entry, n.buffer)}
	n.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
			close(sub.ch)
		})
	}
}

func (n *Node) publish(e Entry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs {
		if sub.session != "" && sub.session != e.Session {
			continue
		}
		select {
		case sub.ch <- e.clone():
		default:
			sub.dropped++
			n.logger.Debug("memory.subscriber.dropped",
				slog.String("session", e.Session),
				slog.Int("seq", e.Seq),
				slog.Int("dropped", sub.dropped),
			)
		}
	}
}

// Close releases the store when it holds resources.
func (n *Node) Close() error {
	if c, ok := n.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Render writes entries in the transcript format used by prompts and the CLI.
func Render(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		header := fmt.Sprintf("#%d %s", e.Seq, e.Kind)
		if e.Round > 0 {
			header = fmt.Sprintf("#%d round %d %s", e.Seq, e.Round, e.Kind)
		}
		if e.Author != "" {
			header += fmt.Sprintf(" (%s/%s)", e.Author, e.Author.Persona())
		}
		if _, err := fmt.Fprintf(w, "%s:\n%s\n\n", header, strings.TrimSpace(e.Content)); err != nil {
			return err
		}
	}
	return nil
}
