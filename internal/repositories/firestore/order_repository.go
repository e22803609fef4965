package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/karigari/api/internal/domain"
	pfirestore "github.com/karigari/api/internal/platform/firestore"
	"github.com/karigari/api/internal/platform/pagination"
	"github.com/karigari/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists orders in Firestore. Confirm and Cancel run the
// order transition and the stock mutation for every line inside a single
// transaction so a contended payment can never oversell.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	products := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &OrderRepository{base: base, products: products, provider: provider}, nil
}

// Insert creates the order document, failing when the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}

	doc := fromDomainOrder(order)
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.insert", err)
	}
	return doc.toDomain(order.ID), nil
}

// Update replaces the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}

	doc := fromDomainOrder(order)
	if _, err := r.base.Set(ctx, order.ID, doc); err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(order.ID), nil
}

// FindByID loads the order by ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data.toDomain(doc.ID)
	if order.CreatedAt.IsZero() {
		order.CreatedAt = doc.CreateTime
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = doc.UpdateTime
	}
	return order, nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(orderCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userRef", "==", userID)
	}
	if filter.Status != "" {
		query = query.Where("status", "==", string(filter.Status))
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// Stats sums order counts and revenue across the whole collection. Only the
// pricing block is fetched per document.
func (r *OrderRepository) Stats(ctx context.Context) (repositories.OrderStats, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderStats{}, errors.New("order repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.OrderStats{}, pfirestore.WrapError("orders.stats", err)
	}

	iter := client.Collection(orderCollection).Select("pricing").Documents(ctx)
	defer iter.Stop()

	var stats repositories.OrderStats
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return repositories.OrderStats{}, pfirestore.WrapError("orders.stats", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return repositories.OrderStats{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		stats.TotalOrders++
		stats.TotalRevenue += doc.Pricing.TotalPrice
	}
	stats.TotalRevenue = domain.RoundMoney(stats.TotalRevenue)
	return stats, nil
}

// Confirm records the verified payment, decrements stock for every line, and
// moves the order to confirmed. All reads run before any write so the
// transaction retries cleanly under contention.
func (r *OrderRepository) Confirm(ctx context.Context, req repositories.OrderConfirmRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return domain.Order{}, errors.New("order confirm: order id is required")
	}

	now := req.Now.UTC()
	var confirmed domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, req.OrderID)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", req.OrderID), err)
			}
			return err
		}
		orderDoc, err := decodeOrder(orderSnap)
		if err != nil {
			return err
		}
		if orderDoc.Status != string(domain.OrderStatusPending) {
			return repositories.NewOrderError(repositories.OrderErrorInvalidState, fmt.Sprintf("order %s is not pending", req.OrderID), nil)
		}

		// Read every product line before the first write.
		type stockUpdate struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		updates := make([]stockUpdate, 0, len(orderDoc.Items))
		for _, item := range orderDoc.Items {
			productRef, err := r.products.DocumentRef(ctx, item.ProductRef)
			if err != nil {
				return err
			}
			snap, err := tx.Get(productRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewOrderError(repositories.OrderErrorProductNotFound, fmt.Sprintf("product %s not found", item.ProductRef), err)
				}
				return err
			}
			var productDoc productDocument
			if err := snap.DataTo(&productDoc); err != nil {
				return fmt.Errorf("decode product %s: %w", item.ProductRef, err)
			}
			if productDoc.Stock < item.Quantity {
				return repositories.NewOrderError(repositories.OrderErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", item.ProductRef), nil)
			}
			productDoc.Stock -= item.Quantity
			productDoc.UpdatedAt = now
			updates = append(updates, stockUpdate{ref: productRef, doc: productDoc})
		}

		for _, update := range updates {
			if err := tx.Set(update.ref, update.doc); err != nil {
				return err
			}
		}

		orderDoc.Status = string(domain.OrderStatusConfirmed)
		orderDoc.Payment = paymentDocument{
			GatewayOrderID:   strings.TrimSpace(req.Payment.GatewayOrderID),
			GatewayPaymentID: strings.TrimSpace(req.Payment.GatewayPaymentID),
			GatewaySignature: strings.TrimSpace(req.Payment.GatewaySignature),
			Status:           string(domain.PaymentStatusCompleted),
		}
		orderDoc.UpdatedAt = now
		if err := tx.Set(orderRef, orderDoc); err != nil {
			return err
		}

		confirmed = orderDoc.toDomain(req.OrderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.confirm", err)
	}
	return confirmed, nil
}

// Cancel moves a pending or confirmed order to cancelled and restores its
// line quantities to stock. Lines whose product has since been removed are
// skipped.
func (r *OrderRepository) Cancel(ctx context.Context, req repositories.OrderCancelRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return domain.Order{}, errors.New("order cancel: order id is required")
	}

	now := req.Now.UTC()
	var cancelled domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, req.OrderID)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", req.OrderID), err)
			}
			return err
		}
		orderDoc, err := decodeOrder(orderSnap)
		if err != nil {
			return err
		}
		switch orderDoc.Status {
		case string(domain.OrderStatusPending), string(domain.OrderStatusConfirmed):
		default:
			return repositories.NewOrderError(repositories.OrderErrorInvalidState, fmt.Sprintf("order %s cannot be cancelled in status %s", req.OrderID, orderDoc.Status), nil)
		}

		type stockUpdate struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		updates := make([]stockUpdate, 0, len(orderDoc.Items))
		for _, item := range orderDoc.Items {
			productRef, err := r.products.DocumentRef(ctx, item.ProductRef)
			if err != nil {
				return err
			}
			snap, err := tx.Get(productRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var productDoc productDocument
			if err := snap.DataTo(&productDoc); err != nil {
				return fmt.Errorf("decode product %s: %w", item.ProductRef, err)
			}
			productDoc.Stock += item.Quantity
			productDoc.UpdatedAt = now
			updates = append(updates, stockUpdate{ref: productRef, doc: productDoc})
		}

		for _, update := range updates {
			if err := tx.Set(update.ref, update.doc); err != nil {
				return err
			}
		}

		orderDoc.Status = string(domain.OrderStatusCancelled)
		orderDoc.CancelledAt = &now
		orderDoc.CancellationReason = strings.TrimSpace(req.Reason)
		orderDoc.UpdatedAt = now
		if err := tx.Set(orderRef, orderDoc); err != nil {
			return err
		}

		cancelled = orderDoc.toDomain(req.OrderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.cancel", err)
	}
	return cancelled, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	UserRef            string              `firestore:"userRef"`
	Items              []orderItemDocument `firestore:"items"`
	ShippingAddress    addressDocument     `firestore:"shippingAddress"`
	Payment            paymentDocument     `firestore:"payment"`
	Pricing            pricingDocument     `firestore:"pricing"`
	Status             string              `firestore:"status"`
	DeliveredAt        *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt        *time.Time          `firestore:"cancelledAt,omitempty"`
	CancellationReason string              `firestore:"cancellationReason,omitempty"`
	CreatedAt          time.Time           `firestore:"createdAt"`
	UpdatedAt          time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductRef string  `firestore:"productRef"`
	Title      string  `firestore:"title"`
	Price      float64 `firestore:"price"`
	Quantity   int     `firestore:"qty"`
	Image      string  `firestore:"image,omitempty"`
}

type paymentDocument struct {
	GatewayOrderID   string `firestore:"gatewayOrderId"`
	GatewayPaymentID string `firestore:"gatewayPaymentId,omitempty"`
	GatewaySignature string `firestore:"gatewaySignature,omitempty"`
	Status           string `firestore:"status"`
}

type pricingDocument struct {
	ItemsPrice    float64 `firestore:"itemsPrice"`
	TaxPrice      float64 `firestore:"taxPrice"`
	ShippingPrice float64 `firestore:"shippingPrice"`
	TotalPrice    float64 `firestore:"totalPrice"`
}

type addressDocument struct {
	FullName     string `firestore:"fullName"`
	Phone        string `firestore:"phone"`
	AddressLine1 string `firestore:"addressLine1"`
	AddressLine2 string `firestore:"addressLine2,omitempty"`
	City         string `firestore:"city"`
	State        string `firestore:"state"`
	Pincode      string `firestore:"pincode"`
	Country      string `firestore:"country"`
	IsDefault    bool   `firestore:"isDefault,omitempty"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductRef: strings.TrimSpace(item.ProductID),
			Title:      strings.TrimSpace(item.Title),
			Price:      item.Price,
			Quantity:   item.Quantity,
			Image:      strings.TrimSpace(item.Image),
		}
	}
	return orderDocument{
		UserRef:            strings.TrimSpace(order.UserID),
		Items:              items,
		ShippingAddress:    fromDomainAddress(order.ShippingAddress),
		Payment:            fromDomainPayment(order.Payment),
		Pricing:            pricingDocument(order.Pricing),
		Status:             string(order.Status),
		DeliveredAt:        order.DeliveredAt,
		CancelledAt:        order.CancelledAt,
		CancellationReason: strings.TrimSpace(order.CancellationReason),
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductRef,
			Title:     item.Title,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Image:     item.Image,
		}
	}
	return domain.Order{
		ID:                 id,
		UserID:             d.UserRef,
		Items:              items,
		ShippingAddress:    toDomainAddress(d.ShippingAddress),
		Payment:            d.Payment.toDomain(),
		Pricing:            domain.Pricing(d.Pricing),
		Status:             domain.OrderStatus(d.Status),
		DeliveredAt:        d.DeliveredAt,
		CancelledAt:        d.CancelledAt,
		CancellationReason: d.CancellationReason,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func fromDomainPayment(payment domain.PaymentInfo) paymentDocument {
	return paymentDocument{
		GatewayOrderID:   strings.TrimSpace(payment.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(payment.GatewayPaymentID),
		GatewaySignature: strings.TrimSpace(payment.GatewaySignature),
		Status:           string(payment.Status),
	}
}

func (d paymentDocument) toDomain() domain.PaymentInfo {
	return domain.PaymentInfo{
		GatewayOrderID:   d.GatewayOrderID,
		GatewayPaymentID: d.GatewayPaymentID,
		GatewaySignature: d.GatewaySignature,
		Status:           domain.PaymentStatus(d.Status),
	}
}

func fromDomainAddress(addr domain.Address) addressDocument {
	return addressDocument{
		FullName:     strings.TrimSpace(addr.FullName),
		Phone:        strings.TrimSpace(addr.Phone),
		AddressLine1: strings.TrimSpace(addr.AddressLine1),
		AddressLine2: strings.TrimSpace(addr.AddressLine2),
		City:         strings.TrimSpace(addr.City),
		State:        strings.TrimSpace(addr.State),
		Pincode:      strings.TrimSpace(addr.Pincode),
		Country:      strings.TrimSpace(addr.Country),
		IsDefault:    addr.IsDefault,
	}
}

func toDomainAddress(doc addressDocument) domain.Address {
	return domain.Address(doc)
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	encoded, err := pagination.EncodeToken(token)
	if err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return encoded, nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	var token orderPageToken
	if err := pagination.DecodeToken(encoded, &token); err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	return &token, nil
}

func decodeOrder(snap *firestore.DocumentSnapshot) (orderDocument, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return orderDocument{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
