package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"goldchain/core/events"
	"goldchain/core/state"
	"goldchain/native/ledger"
	"goldchain/observability"
	"goldchain/observability/metrics"
	"goldchain/storage"
	"goldchain/storage/trie"
)

var headKey = []byte("goldchain/head")

// ErrNodeClosed is returned by calls made after Close.
var ErrNodeClosed = errors.New("core: node closed")

// Head describes the last committed state.
type Head struct {
	Root      common.Hash
	Height    uint64
	Timestamp uint64
}

type storedHead struct {
	Root      [32]byte
	Height    uint64
	Timestamp uint64
}

// Node hosts the ledger contract. It serialises every call, supplies the
// caller identity and a non-decreasing millisecond timestamp, and runs each
// write against the state trie as a transaction: the trie is committed when
// the call succeeds and reset to the last committed root when it fails.
type Node struct {
	db   storage.Database
	trie *trie.Trie

	mu     sync.Mutex
	head   Head
	nowFn  func() int64
	closed bool

	subsMu  sync.Mutex
	subs    map[uint64]chan events.Event
	nextSub uint64

	logger *slog.Logger
}

// NewNode opens the ledger state stored in db, resuming from the persisted
// head when one exists.
func NewNode(db storage.Database) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	head, err := loadHead(db)
	if err != nil {
		return nil, err
	}
	var root []byte
	if head.Height > 0 {
		root = head.Root.Bytes()
	}
	stateTrie, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("core: open state at %s: %w", head.Root, err)
	}
	if head.Height == 0 {
		head.Root = stateTrie.Root()
	}
	n := &Node{
		db:     db,
		trie:   stateTrie,
		head:   head,
		nowFn:  func() int64 { return time.Now().UnixMilli() },
		subs:   make(map[uint64]chan events.Event),
		logger: slog.Default(),
	}
	metrics.Ledger().SetHeight(head.Height)
	if count, err := n.LedgerCount(); err == nil {
		metrics.Ledger().SetRecords(count)
	}
	return n, nil
}

func loadHead(db storage.Database) (Head, error) {
	raw, err := db.Get(headKey)
	if errors.Is(err, storage.ErrNotFound) {
		return Head{}, nil
	}
	if err != nil {
		return Head{}, fmt.Errorf("core: load head: %w", err)
	}
	var stored storedHead
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return Head{}, fmt.Errorf("core: decode head: %w", err)
	}
	return Head{Root: common.Hash(stored.Root), Height: stored.Height, Timestamp: stored.Timestamp}, nil
}

func storeHead(db storage.Database, head Head) error {
	encoded, err := rlp.EncodeToBytes(storedHead{Root: head.Root, Height: head.Height, Timestamp: head.Timestamp})
	if err != nil {
		return err
	}
	return db.Put(headKey, encoded)
}

// SetNowFunc overrides the clock, expressed in Unix milliseconds. Passing nil
// restores the wall clock.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if now == nil {
		n.nowFn = func() int64 { return time.Now().UnixMilli() }
		return
	}
	n.nowFn = now
}

// SetLogger replaces the logger used for commit diagnostics.
func (n *Node) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	n.mu.Lock()
	n.logger = logger
	n.mu.Unlock()
}

// timestamp never runs backwards relative to the last committed call.
func (n *Node) timestamp() uint64 {
	now := n.nowFn()
	if now < 0 {
		now = 0
	}
	ts := uint64(now)
	if ts < n.head.Timestamp {
		ts = n.head.Timestamp
	}
	return ts
}

func (n *Node) engine(emitter events.Emitter) *ledger.Engine {
	engine := ledger.NewEngine(state.NewManager(n.trie))
	engine.SetEmitter(emitter)
	return engine
}

// execute runs fn as a single transaction. Events emitted by fn are published
// only once the new root has been committed and the head persisted.
func (n *Node) execute(op string, caller ledger.Identity, fn func(*ledger.Engine, ledger.Env) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}

	buffer := &events.Buffer{}
	env := ledger.Env{Caller: caller, Timestamp: n.timestamp()}
	if err := fn(n.engine(buffer), env); err != nil {
		buffer.Discard()
		n.rollback(op, err)
		return err
	}

	next := Head{Height: n.head.Height + 1, Timestamp: env.Timestamp}
	root, err := n.trie.Commit(next.Height)
	if err != nil {
		buffer.Discard()
		n.rollback(op, err)
		return fmt.Errorf("core: commit %s: %w", op, err)
	}
	next.Root = root
	if err := storeHead(n.db, next); err != nil {
		buffer.Discard()
		if resetErr := n.trie.Reset(n.head.Root); resetErr != nil {
			n.logger.Error("reset after head write failure", slog.String("error", resetErr.Error()))
		}
		metrics.Ledger().RecordRollback()
		return fmt.Errorf("core: persist head: %w", err)
	}
	n.head = next
	metrics.Ledger().SetHeight(next.Height)
	n.logger.Debug("state committed",
		slog.String("method", op),
		slog.Uint64("height", next.Height),
		slog.String("root", root.Hex()))

	n.publish(buffer.Drain())
	return nil
}

func (n *Node) rollback(op string, cause error) {
	metrics.Ledger().RecordRollback()
	if err := n.trie.Rollback(); err != nil {
		n.logger.Error("state rollback failed",
			slog.String("method", op),
			slog.String("reason", cause.Error()),
			slog.String("error", err.Error()))
	}
}

// Initialize records caller as the ledger admin.
func (n *Node) Initialize(caller ledger.Identity) error {
	err := n.execute("initialize", caller, func(engine *ledger.Engine, env ledger.Env) error {
		return engine.Initialize(env)
	})
	metrics.Ledger().ObserveOperation("initialize", err, ledger.ErrAlreadyInitialized)
	return err
}

// AddLedger stores a new record on behalf of caller, stamped with the node
// clock.
func (n *Node) AddLedger(caller ledger.Identity, trackingID, lotID string) (*ledger.Ledger, error) {
	var (
		record *ledger.Ledger
		count  uint64
	)
	err := n.execute("addLedger", caller, func(engine *ledger.Engine, env ledger.Env) error {
		var err error
		record, err = engine.AddLedger(env, trackingID, lotID)
		if err != nil {
			return err
		}
		count, err = engine.Count()
		return err
	})
	metrics.Ledger().ObserveOperation("addLedger", err,
		ledger.ErrNotInitialized,
		ledger.ErrUnauthorizedAuthority,
		ledger.ErrStringTooLong,
		ledger.ErrLedgerAlreadyExists,
	)
	if err != nil {
		return nil, err
	}
	metrics.Ledger().SetRecords(count)
	return record, nil
}

// view runs a read against the committed state.
func (n *Node) view(fn func(*ledger.Engine) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	return fn(n.engine(nil))
}

// GetLedger returns the record stored for the exact pair.
func (n *Node) GetLedger(trackingID, lotID string) (*ledger.Ledger, bool, error) {
	var (
		record *ledger.Ledger
		ok     bool
	)
	err := n.view(func(engine *ledger.Engine) error {
		var err error
		record, ok, err = engine.GetLedger(trackingID, lotID)
		return err
	})
	return record, ok, err
}

// GetLedgerByKey returns the record stored under a derived key.
func (n *Node) GetLedgerByKey(key ledger.Key) (*ledger.Ledger, bool, error) {
	var (
		record *ledger.Ledger
		ok     bool
	)
	err := n.view(func(engine *ledger.Engine) error {
		var err error
		record, ok, err = engine.GetLedgerByKey(key)
		return err
	})
	return record, ok, err
}

// GetAllLedgers returns every record in insertion order.
func (n *Node) GetAllLedgers() ([]*ledger.Ledger, error) {
	var records []*ledger.Ledger
	err := n.view(func(engine *ledger.Engine) error {
		var err error
		records, err = engine.GetAllLedgers()
		return err
	})
	return records, err
}

// GetConfig returns the admin configuration when initialised.
func (n *Node) GetConfig() (*ledger.Config, bool, error) {
	var (
		cfg *ledger.Config
		ok  bool
	)
	err := n.view(func(engine *ledger.Engine) error {
		var err error
		cfg, ok, err = engine.GetConfig()
		return err
	})
	return cfg, ok, err
}

// LedgerCount returns the number of stored records.
func (n *Node) LedgerCount() (uint64, error) {
	var count uint64
	err := n.view(func(engine *ledger.Engine) error {
		var err error
		count, err = engine.Count()
		return err
	})
	return count, err
}

// VerifyState audits the key index against the record mapping.
func (n *Node) VerifyState() error {
	err := n.view(func(engine *ledger.Engine) error {
		return engine.Verify()
	})
	metrics.Ledger().RecordAudit(err)
	return err
}

// Head returns the last committed head.
func (n *Node) Head() Head {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head
}

// Subscribe registers a listener for committed events. The returned function
// cancels the subscription and closes the channel. Events are dropped for
// subscribers whose buffer is full.
func (n *Node) Subscribe(buffer int) (<-chan events.Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan events.Event, buffer)
	n.subsMu.Lock()
	id := n.nextSub
	n.nextSub++
	n.subs[id] = ch
	n.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.subsMu.Lock()
			if sub, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(sub)
			}
			n.subsMu.Unlock()
		})
	}
}

func (n *Node) publish(evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	for _, evt := range evts {
		observability.Events().RecordPublished(evt.EventType())
		for _, ch := range n.subs {
			select {
			case ch <- evt:
			default:
				observability.Events().RecordDropped(evt.EventType())
			}
		}
	}
}

// Close stops the node and closes every subscription. The database is owned
// by the caller.
func (n *Node) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	n.subsMu.Lock()
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
	n.subsMu.Unlock()
}
