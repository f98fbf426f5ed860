package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"delika-checkout/internal/logger"
	"delika-checkout/internal/payment"
	"delika-checkout/internal/scheduler"
	"delika-checkout/internal/store"

	"go.uber.org/zap"
)

var ErrDialogNotFound = errors.New("payment dialog not found")

// Manager keeps the open payment dialogs, one per order and customer.
// Dialogs missing from memory are restored from their stored snapshot.
type Manager struct {
	gw    payment.Gateway
	store store.Store
	sched scheduler.Scheduler
	cfg   Config
	now   func() time.Time

	onComplete func(Session)

	mu      sync.RWMutex
	flows   map[string]*Flow
	byOrder map[string]string
}

func NewManager(gw payment.Gateway, st store.Store, sched scheduler.Scheduler, cfg Config) *Manager {
	return &Manager{
		gw:      gw,
		store:   st,
		sched:   sched,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		flows:   make(map[string]*Flow),
		byOrder: make(map[string]string),
	}
}

// OnComplete is attached to every dialog opened afterwards.
func (m *Manager) OnComplete(fn func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = fn
}

func orderKey(customerID, orderID string) string {
	return customerID + "/" + orderID
}

// Open returns the dialog for the order, resetting it when it is reopened.
// A settled dialog is returned untouched, whatever the amount, so an order
// can never be charged twice.
func (m *Manager) Open(ctx context.Context, amount float64, orderID, customerID string) (*Flow, error) {
	log := logger.FromCtx(ctx).With(zap.String("order_id", orderID))

	m.mu.Lock()
	f, ok := m.openLocked(log, amount, orderID, customerID)
	m.mu.Unlock()
	if ok {
		return f, nil
	}

	restored := m.restore(ctx, SessionKey(orderID))
	if restored != nil {
		snap := restored.Snapshot()
		if snap.CustomerID != customerID || (snap.State != StateSucceeded && snap.Amount != amount) {
			restored.Close()
			restored = nil
		}
	}

	m.mu.Lock()
	// Another request may have opened the dialog meanwhile.
	if f, ok := m.openLocked(log, amount, orderID, customerID); ok {
		m.mu.Unlock()
		if restored != nil {
			restored.Close()
		}
		return f, nil
	}

	f = restored
	if f == nil {
		var err error
		if f, err = NewFlow(m.gw, m.store, m.sched, m.cfg, amount, orderID, customerID); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	m.addLocked(f)
	m.mu.Unlock()

	snap := f.Snapshot()
	m.index(ctx, log, snap.ID, orderID)
	if restored != nil {
		log.Info("Payment dialog restored", zap.String("session_id", snap.ID), zap.String("state", string(snap.State)))
	} else {
		log.Info("Payment dialog opened", zap.String("session_id", snap.ID), zap.Float64("amount", amount))
	}
	return f, nil
}

// index maps the session id to its order so Get can restore it. An empty
// order id marks a closed dialog.
func (m *Manager) index(ctx context.Context, log *zap.Logger, id, orderID string) {
	if m.store == nil {
		return
	}
	if err := m.store.Set(context.WithoutCancel(ctx), DialogKey(id), orderID); err != nil {
		log.Warn("Failed to index payment dialog", zap.String("session_id", id), zap.Error(err))
	}
}

// openLocked serves a reopen from memory. It reports false when there is no
// usable dialog for the order.
func (m *Manager) openLocked(log *zap.Logger, amount float64, orderID, customerID string) (*Flow, bool) {
	id, ok := m.byOrder[orderKey(customerID, orderID)]
	if !ok {
		return nil, false
	}
	f := m.flows[id]
	snap := f.Snapshot()

	switch {
	case snap.State == StateSucceeded:
		if snap.Amount != amount {
			log.Warn("Order already paid, ignoring new amount",
				zap.String("session_id", id), zap.Float64("paid", snap.Amount), zap.Float64("amount", amount))
		}
		return f, true
	case snap.Amount == amount:
		f.Reset()
		log.Info("Payment dialog reopened", zap.String("session_id", id))
		return f, true
	}

	// The order total changed; start over with a fresh dialog.
	f.Close()
	m.removeLocked(id, snap)
	return nil, false
}

func (m *Manager) addLocked(f *Flow) {
	f.OnComplete(m.onComplete)
	snap := f.Snapshot()
	m.flows[snap.ID] = f
	m.byOrder[orderKey(snap.CustomerID, snap.OrderID)] = snap.ID
}

func (m *Manager) removeLocked(id string, snap Session) {
	delete(m.flows, id)
	if m.byOrder[orderKey(snap.CustomerID, snap.OrderID)] == id {
		delete(m.byOrder, orderKey(snap.CustomerID, snap.OrderID))
	}
}

// Get returns the dialog, restoring it from the store when it is no longer
// held in memory.
func (m *Manager) Get(ctx context.Context, id string) (*Flow, error) {
	m.mu.RLock()
	f, ok := m.flows[id]
	m.mu.RUnlock()
	if ok {
		return f, nil
	}

	if m.store == nil {
		return nil, ErrDialogNotFound
	}
	orderID, found, err := m.store.Get(ctx, DialogKey(id))
	if err != nil {
		logger.FromCtx(ctx).Warn("Failed to look up payment dialog", zap.String("session_id", id), zap.Error(err))
		return nil, ErrDialogNotFound
	}
	if !found || orderID == "" {
		return nil, ErrDialogNotFound
	}

	restored := m.restore(ctx, SessionKey(orderID))
	if restored == nil || restored.Snapshot().ID != id {
		if restored != nil {
			restored.Close()
		}
		return nil, ErrDialogNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.flows[id]; ok {
		restored.Close()
		return f, nil
	}
	// A newer dialog for the order wins over the restored one.
	snap := restored.Snapshot()
	if _, taken := m.byOrder[orderKey(snap.CustomerID, snap.OrderID)]; taken {
		restored.Close()
		return nil, ErrDialogNotFound
	}
	m.addLocked(restored)
	logger.FromCtx(ctx).Info("Payment dialog restored", zap.String("session_id", id), zap.String("state", string(snap.State)))
	return restored, nil
}

// restore loads and rebuilds the dialog stored under key. It returns nil when
// there is nothing usable.
func (m *Manager) restore(ctx context.Context, key string) *Flow {
	if m.store == nil {
		return nil
	}
	log := logger.FromCtx(ctx).With(zap.String("key", key))

	raw, found, err := m.store.Get(ctx, key)
	if err != nil {
		log.Warn("Failed to load payment session", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		log.Warn("Discarding unreadable payment session", zap.Error(err))
		return nil
	}

	f, err := RestoreFlow(m.gw, m.store, m.sched, m.cfg, s)
	if err != nil {
		log.Debug("Payment session not restored", zap.Error(err))
		return nil
	}
	return f
}

// Close disposes the dialog and its countdown. The stored snapshot is reset
// so the dialog does not come back.
func (m *Manager) Close(ctx context.Context, id string) error {
	f, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	snap := f.Snapshot()
	m.removeLocked(id, snap)
	m.mu.Unlock()

	if snap.State != StateSucceeded {
		f.Reset()
	}
	f.Close()
	m.index(ctx, logger.FromCtx(ctx), id, "")
	return nil
}

// Sweep drops dialogs untouched for longer than the dialog TTL. Their
// snapshots stay in the store, so they can still be restored.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.cfg.DialogTTL)

	m.mu.Lock()
	var idle []*Flow
	for id, f := range m.flows {
		snap := f.Snapshot()
		if snap.State == StateVerifying || !snap.UpdatedAt.Before(cutoff) {
			continue
		}
		m.removeLocked(id, snap)
		idle = append(idle, f)
	}
	m.mu.Unlock()

	for _, f := range idle {
		f.Close()
	}
	return len(idle)
}

// Run sweeps idle dialogs every minute until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				logger.L().Info("Evicted idle payment dialogs", zap.Int("count", n))
			}
		}
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.flows)
}
