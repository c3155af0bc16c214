package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/keyshop/internal/gateway"
	"github.com/Skotchmaster/keyshop/internal/models"
	"github.com/Skotchmaster/keyshop/internal/repo"
	"github.com/Skotchmaster/keyshop/internal/util"
	"github.com/Skotchmaster/keyshop/pkg/logging"
)

const (
	TopicOrderEvents = "order_events"

	EventOrderCompleted = "order_completed"
	EventOrderFailed    = "order_failed"

	expireBatch = 100
)

// PaymentGateway is the external payment processor as the order manager sees
// it. gateway.Client implements it.
type PaymentGateway interface {
	CreateSession(ctx context.Context, clientRef string, items []gateway.LineItem) (*gateway.Session, error)
	GetSessionStatus(ctx context.Context, sessionID string) (*gateway.SessionStatus, error)
}

type CheckoutResult struct {
	OrderID     uuid.UUID `json:"order_id"`
	SessionID   string    `json:"session_id,omitempty"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	TotalCents  int64     `json:"total_cents"`
}

type OrderService struct {
	Repo      *repo.GormRepo
	Keys      *KeyStore
	Gateway   PaymentGateway
	Publisher EventPublisher
	Indexer   Indexer

	GatewayTimeout time.Duration
	Now            func() time.Time
}

func NewOrderService(r *repo.GormRepo, keys *KeyStore, gw PaymentGateway) *OrderService {
	return &OrderService{
		Repo:           r,
		Keys:           keys,
		Gateway:        gw,
		GatewayTimeout: 10 * time.Second,
		Now:            func() time.Time { return time.Now().UTC() },
	}
}

// errLostRace marks a terminal transition that another writer completed first.
var errLostRace = errors.New("order already resolved")

type lineSource struct {
	title *models.Title
	price int64
}

// StartCheckout reserves one key per item, records a PENDING order and opens
// a payment session for it. Reservation is all-or-nothing. When the gateway
// fails after the order is stored, the result still carries the order id and
// the error wraps ErrGateway; the keys stay reserved until RetryPayment
// succeeds or the order is cancelled.
func (s *OrderService) StartCheckout(ctx context.Context, userID uuid.UUID, items []CheckoutItem) (*CheckoutResult, error) {
	l := logging.FromContext(ctx).With("svc", "order.checkout", "user_id", userID)

	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id required", ErrValidation)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	for _, it := range items {
		if it.TitleID == uuid.Nil || it.PlatformID == uuid.Nil {
			return nil, fmt.Errorf("%w: title_id and platform_id required", ErrValidation)
		}
	}

	titles := make(map[uuid.UUID]*models.Title, len(items))
	for _, it := range items {
		if _, ok := titles[it.TitleID]; ok {
			continue
		}
		t, err := s.Repo.GetTitle(ctx, it.TitleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: title %s", ErrNotFound, it.TitleID)
			}
			l.Error("checkout_error", "reason", "cannot load title", "error", err)
			return nil, err
		}
		titles[it.TitleID] = t
	}

	orderID := uuid.New()
	l = l.With("order_id", orderID)

	order := &models.Order{
		ID:        orderID,
		UserID:    userID,
		OrderedAt: s.Now(),
		Status:    models.OrderPending,
	}
	lines := make([]lineSource, 0, len(items))
	failed := -1
	err := s.Repo.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keys := s.Keys.WithTx(tx)
		for i, it := range items {
			t := titles[it.TitleID]
			key, err := keys.Reserve(ctx, it.TitleID, it.PlatformID, orderID, UnitPrice(t))
			if err != nil {
				failed = i
				return err
			}
			lines = append(lines, lineSource{title: t, price: key.PriceCents})
			order.TotalCents += key.PriceCents
		}
		_, err := s.Repo.WithTx(tx).CreateOrder(ctx, order)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrOutOfStock) && failed >= 0 {
			oos := &OutOfStockError{Items: []CheckoutItem{items[failed]}}
			oos.Items = append(oos.Items, s.shortItems(ctx, items[:failed], items[failed+1:])...)
			l.Info("checkout_out_of_stock", "items", len(oos.Items))
			return nil, oos
		}
		l.Error("checkout_error", "reason", "cannot reserve keys", "error", err)
		return nil, err
	}
	total := order.TotalCents
	s.refreshStock(ctx, items)

	res := &CheckoutResult{OrderID: orderID, TotalCents: total}
	sess, err := s.openSession(ctx, orderID, lineItems(lines))
	if err != nil {
		l.Warn("checkout_gateway_error", "error", err)
		return res, err
	}
	res.SessionID = sess.ID
	res.RedirectURL = sess.RedirectURL

	l.Info("checkout_success", "total_cents", total, "keys", len(lines))
	return res, nil
}

// RetryPayment sends the buyer back to payment for their PENDING order. A
// session that is still open is handed out again and a paid one completes the
// order; only an expired session, or none at all, is replaced.
func (s *OrderService) RetryPayment(ctx context.Context, userID, orderID uuid.UUID) (*CheckoutResult, error) {
	l := logging.FromContext(ctx).With("svc", "order.retry_payment", "order_id", orderID)

	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrInvalidOrderTransition, orderID, order.Status)
	}

	if order.SessionID != nil {
		st, err := s.sessionStatus(ctx, *order.SessionID)
		if err != nil {
			l.Warn("retry_payment_gateway_error", "session_id", *order.SessionID, "error", err)
			return nil, err
		}
		switch st.Status {
		case gateway.StatusPaid:
			if err := s.resolve(ctx, orderID, models.OrderCompleted, st.PaymentMethod); err != nil && !errors.Is(err, errLostRace) {
				return nil, err
			}
			l.Info("retry_payment_already_paid", "session_id", *order.SessionID)
			return nil, fmt.Errorf("%w: order %s was paid in session %s", ErrInvalidOrderTransition, orderID, *order.SessionID)
		case gateway.StatusUnpaid:
			l.Debug("retry_payment_session_open", "session_id", *order.SessionID)
			return &CheckoutResult{
				OrderID:     orderID,
				SessionID:   *order.SessionID,
				RedirectURL: order.PaymentURL,
				TotalCents:  order.TotalCents,
			}, nil
		}
	}

	keys, err := s.Keys.OrderKeys(ctx, orderID)
	if err != nil {
		return nil, err
	}
	lines := make([]lineSource, 0, len(keys))
	titles := map[uuid.UUID]*models.Title{}
	for _, k := range keys {
		t, ok := titles[k.TitleID]
		if !ok {
			t, err = s.Repo.GetTitle(ctx, k.TitleID)
			if err != nil {
				return nil, err
			}
			titles[k.TitleID] = t
		}
		lines = append(lines, lineSource{title: t, price: k.PriceCents})
	}

	res := &CheckoutResult{OrderID: orderID, TotalCents: order.TotalCents}
	sess, err := s.openSession(ctx, orderID, lineItems(lines))
	if err != nil {
		l.Warn("retry_payment_gateway_error", "error", err)
		return res, err
	}
	res.SessionID = sess.ID
	res.RedirectURL = sess.RedirectURL

	l.Info("retry_payment_success")
	return res, nil
}

// ConfirmPayment resolves the order bound to a gateway session. Orders that
// are already terminal come back unchanged.
func (s *OrderService) ConfirmPayment(ctx context.Context, sessionID string) (*models.Order, error) {
	l := logging.FromContext(ctx).With("svc", "order.confirm", "session_id", sessionID)

	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id required", ErrValidation)
	}
	order, err := s.Repo.GetOrderBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrOrderNotFound, sessionID)
		}
		return nil, err
	}
	if order.Status.Terminal() {
		l.Debug("confirm_already_resolved", "order_id", order.ID, "status", order.Status)
		return order, nil
	}

	st, err := s.sessionStatus(ctx, sessionID)
	if err != nil {
		l.Warn("confirm_gateway_error", "order_id", order.ID, "error", err)
		return nil, err
	}

	switch st.Status {
	case gateway.StatusPaid:
		err = s.resolve(ctx, order.ID, models.OrderCompleted, st.PaymentMethod)
	case gateway.StatusExpired:
		err = s.resolve(ctx, order.ID, models.OrderFailed, "")
	default:
		l.Debug("confirm_unpaid", "order_id", order.ID)
		return order, nil
	}
	if err != nil && !errors.Is(err, errLostRace) {
		return nil, err
	}

	return s.Repo.GetOrder(ctx, order.ID)
}

// Cancel fails a PENDING order and returns its keys to stock.
func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, err
	}
	return s.cancel(ctx, order)
}

func (s *OrderService) CancelForUser(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, order)
}

// AbandonCheckout fails a PENDING order whose buyer left the payment page and
// reports whether this call failed it. An order already paid at the gateway
// is completed instead; a terminal order comes back unchanged.
func (s *OrderService) AbandonCheckout(ctx context.Context, orderID uuid.UUID) (*models.Order, bool, error) {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, false, err
	}
	if order.Status.Terminal() {
		return order, false, nil
	}

	settled, err := s.settlePaid(ctx, order)
	if err != nil {
		return nil, false, err
	}
	if settled {
		order, err = s.Repo.GetOrder(ctx, orderID)
		return order, false, err
	}

	cancelled, err := s.cancel(ctx, order)
	if err != nil {
		if errors.Is(err, ErrInvalidOrderTransition) {
			order, err = s.Repo.GetOrder(ctx, orderID)
			return order, false, err
		}
		return nil, false, err
	}
	return cancelled, true, nil
}

func (s *OrderService) cancel(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrInvalidOrderTransition, order.ID, order.Status)
	}
	if err := s.resolve(ctx, order.ID, models.OrderFailed, ""); err != nil {
		if errors.Is(err, errLostRace) {
			return nil, fmt.Errorf("%w: order %s already resolved", ErrInvalidOrderTransition, order.ID)
		}
		return nil, err
	}
	return s.Repo.GetOrder(ctx, order.ID)
}

// ExpirePending cancels PENDING orders placed more than olderThan ago and
// returns how many it failed. Orders resolved concurrently are skipped. An
// order whose session was paid at the gateway is completed instead, and one
// whose session cannot be checked is left for the next run.
func (s *OrderService) ExpirePending(ctx context.Context, olderThan time.Duration) (int, error) {
	l := logging.FromContext(ctx).With("svc", "order.expire")

	cutoff := s.Now().Add(-olderThan)
	expired := 0
	for {
		ids, err := s.Repo.StalePendingOrders(ctx, cutoff, expireBatch)
		if err != nil {
			return expired, err
		}
		progress := 0
		for _, id := range ids {
			order, err := s.Repo.GetOrder(ctx, id)
			if err != nil {
				return expired, err
			}
			settled, err := s.settlePaid(ctx, order)
			if err != nil {
				l.Warn("expire_skipped", "order_id", id, "reason", "cannot check payment", "error", err)
				continue
			}
			if settled {
				progress++
				continue
			}

			err = s.resolve(ctx, id, models.OrderFailed, "")
			if errors.Is(err, errLostRace) {
				continue
			}
			if err != nil {
				l.Error("expire_error", "order_id", id, "error", err)
				return expired, err
			}
			progress++
			expired++
		}
		if len(ids) < expireBatch || progress == 0 {
			break
		}
	}

	if expired > 0 {
		l.Info("expire_success", "orders", expired)
	}
	return expired, nil
}

// GetOrder returns the user's order with its keys. Codes are only revealed
// once the order is COMPLETED.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	keys, err := s.Keys.OrderKeys(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderCompleted {
		for i := range keys {
			keys[i].Code = ""
		}
	}
	order.Keys = keys
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID, page, size int) (int64, []models.Order, error) {
	offset, limit := util.Calculate(page, size)
	return s.Repo.ListOrders(ctx, userID, limit, offset)
}

func (s *OrderService) OrderKeys(ctx context.Context, orderID uuid.UUID) ([]models.LicenseKey, error) {
	return s.Keys.OrderKeys(ctx, orderID)
}

// AdminList pages through all orders, optionally narrowed by status or buyer.
func (s *OrderService) AdminList(ctx context.Context, f repo.OrderFilter, page, size int) (int64, []models.Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return 0, nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	offset, limit := util.Calculate(page, size)
	return s.Repo.ListAllOrders(ctx, f, limit, offset)
}

// AdminGetOrder returns any order with its keys, codes included.
func (s *OrderService) AdminGetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, err
	}
	order.Keys, err = s.Keys.OrderKeys(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// resolve claims the PENDING -> to transition and moves the order's keys in
// the same transaction. errLostRace means the order was no longer PENDING.
func (s *OrderService) resolve(ctx context.Context, orderID uuid.UUID, to models.OrderStatus, paymentMethod string) error {
	l := logging.FromContext(ctx).With("svc", "order.resolve", "order_id", orderID, "to", to)

	var keys []models.LicenseKey
	err := s.Repo.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.Repo.WithTx(tx).TransitionOrder(ctx, orderID, models.OrderPending, to, paymentMethod, s.Now())
		if err != nil {
			return err
		}
		if !ok {
			return errLostRace
		}

		ks := s.Keys.WithTx(tx)
		if to == models.OrderCompleted {
			keys, err = ks.Commit(ctx, orderID)
		} else {
			keys, err = ks.Release(ctx, orderID)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, errLostRace) {
			l.Debug("resolve_lost_race")
		} else {
			l.Error("resolve_error", "error", err)
		}
		return err
	}

	l.Info("resolve_success", "keys", len(keys))
	s.afterResolve(ctx, orderID, to, keys)
	return nil
}

func (s *OrderService) afterResolve(ctx context.Context, orderID uuid.UUID, to models.OrderStatus, keys []models.LicenseKey) {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		logging.FromContext(ctx).Warn("publish_event_error", "order_id", orderID, "error", err)
		return
	}

	ev := OrderEvent{
		Type:          EventOrderFailed,
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        string(order.Status),
		TotalCents:    order.TotalCents,
		PaymentMethod: order.PaymentMethod,
		At:            s.Now(),
	}
	if to == models.OrderCompleted {
		ev.Type = EventOrderCompleted
		for _, k := range keys {
			ev.Keys = append(ev.Keys, KeyDetail{
				KeyID:      k.ID,
				TitleID:    k.TitleID,
				PlatformID: k.PlatformID,
				Code:       k.Code,
				PriceCents: k.PriceCents,
			})
		}
	}
	publish(ctx, s.Publisher, TopicOrderEvents, order.ID.String(), ev)

	pools := make([]CheckoutItem, 0, len(keys))
	for _, k := range keys {
		pools = append(pools, CheckoutItem{TitleID: k.TitleID, PlatformID: k.PlatformID})
	}
	s.refreshStock(ctx, pools)
}

func (s *OrderService) openSession(ctx context.Context, orderID uuid.UUID, items []gateway.LineItem) (*gateway.Session, error) {
	gctx, cancel := s.gatewayContext(ctx)
	sess, err := s.Gateway.CreateSession(gctx, orderID.String(), items)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", ErrGateway, err)
	}

	ok, err := s.Repo.AttachSession(ctx, orderID, sess.ID, sess.RedirectURL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: order %s resolved while opening session", ErrInvalidOrderTransition, orderID)
	}
	return sess, nil
}

// settlePaid completes the order when its current session was paid at the
// gateway and reports whether it did. Without a session or a gateway there
// is nothing to check.
func (s *OrderService) settlePaid(ctx context.Context, order *models.Order) (bool, error) {
	if order.SessionID == nil || s.Gateway == nil {
		return false, nil
	}
	st, err := s.sessionStatus(ctx, *order.SessionID)
	if err != nil {
		return false, err
	}
	if st.Status != gateway.StatusPaid {
		return false, nil
	}
	err = s.resolve(ctx, order.ID, models.OrderCompleted, st.PaymentMethod)
	if err != nil && !errors.Is(err, errLostRace) {
		return false, err
	}
	return true, nil
}

func (s *OrderService) sessionStatus(ctx context.Context, sessionID string) (*gateway.SessionStatus, error) {
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()
	st, err := s.Gateway.GetSessionStatus(gctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: session status: %v", ErrGateway, err)
	}
	return st, nil
}

func (s *OrderService) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.GatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.GatewayTimeout)
}

func (s *OrderService) ownedOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, err
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// shortItems reports which of the remaining items would also fail. The
// reservation was rolled back, so copies asked for by earlier items of the
// same pool count against what is left.
func (s *OrderService) shortItems(ctx context.Context, before, after []CheckoutItem) []CheckoutItem {
	var out []CheckoutItem
	need := map[CheckoutItem]int64{}
	for _, it := range before {
		need[it]++
	}
	for _, it := range after {
		need[it]++
		n, err := s.Keys.AvailableCount(ctx, it.TitleID, it.PlatformID)
		if err != nil || n < need[it] {
			out = append(out, it)
		}
	}
	return out
}

// RefreshStock pushes the current stock of one pool to the index.
func (s *OrderService) RefreshStock(ctx context.Context, titleID, platformID uuid.UUID) {
	s.refreshStock(ctx, []CheckoutItem{{TitleID: titleID, PlatformID: platformID}})
}

func (s *OrderService) refreshStock(ctx context.Context, items []CheckoutItem) {
	if s.Indexer == nil {
		return
	}
	seen := map[CheckoutItem]struct{}{}
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		n, err := s.Keys.AvailableCount(ctx, it.TitleID, it.PlatformID)
		if err == nil {
			err = s.Indexer.IndexStock(ctx, it.TitleID, it.PlatformID, n)
		}
		if err != nil {
			logging.FromContext(ctx).Warn("index_stock_error", "title_id", it.TitleID, "platform_id", it.PlatformID, "error", err)
		}
	}
}

func lineItems(lines []lineSource) []gateway.LineItem {
	out := make([]gateway.LineItem, 0, len(lines))
	for _, ln := range lines {
		out = append(out, gateway.LineItem{
			Name:           ln.title.Name,
			Description:    ln.title.Description,
			UnitPriceCents: ln.price,
			Quantity:       1,
			ImageRef:       ln.title.ImageURL,
		})
	}
	return out
}
