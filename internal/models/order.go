package models

import "time"

type OrderStatus string // Статус заказа

const (
	ActiveOrder     OrderStatus = "active"      // Заказ принимает предложения
	InProgressOrder OrderStatus = "in_progress" // Предложение принято, заказ выполняется
	CompletedOrder  OrderStatus = "completed"   // Заказ выполнен
	CancelledOrder  OrderStatus = "cancelled"   // Заказ отменен покупателем
)

var allowedOrderTransitions = map[OrderStatus][]OrderStatus{
	ActiveOrder:     {InProgressOrder, CancelledOrder},
	InProgressOrder: {CompletedOrder},
	CompletedOrder:  {},
	CancelledOrder:  {},
}

// Valid проверяет, что статус известен.
func (s OrderStatus) Valid() bool {
	_, ok := allowedOrderTransitions[s]
	return ok
}

// CanTransitionTo проверяет допустимость перехода статуса заказа.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range allowedOrderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && len(allowedOrderTransitions[s]) == 0
}

// Order представляет модель заказа покупателя.
type Order struct {
	ID                string            `json:"id"`
	BuyerID           string            `json:"buyerId"`
	Quantity          int               `json:"quantity"`
	QualityParameters map[string]string `json:"qualityParameters"`
	Region            string            `json:"region"`
	DeliveryLocation  string            `json:"deliveryLocation"`
	LoadingDate       time.Time         `json:"loadingDate"`
	AdditionalNotes   string            `json:"additionalNotes"`
	Status            OrderStatus       `json:"status"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// OrderRequest представляет структуру запроса для создания заказа.
type OrderRequest struct {
	Quantity          int               `json:"quantity" validate:"required,gt=0"`
	QualityParameters map[string]string `json:"qualityParameters"`
	Region            string            `json:"region" validate:"required"`
	DeliveryLocation  string            `json:"deliveryLocation" validate:"required"`
	LoadingDate       time.Time         `json:"loadingDate" validate:"required"`
	AdditionalNotes   string            `json:"additionalNotes" validate:"max=2000"`
}

// OrderFilter ограничивает выборку активных заказов.
type OrderFilter struct {
	Regions []string
	BuyerID string
}

// Page описывает страницу keyset-пагинации.
type Page struct {
	Limit  int
	Cursor string
}

// OrderPage - страница заказов и курсор следующей страницы.
type OrderPage struct {
	Orders     []Order `json:"orders"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// BuyerStats - сводка по заказам покупателя.
type BuyerStats struct {
	TotalOrders     int `json:"totalOrders"`
	ActiveOrders    int `json:"activeOrders"`
	InProgress      int `json:"inProgressOrders"`
	CompletedOrders int `json:"completedOrders"`
	CancelledOrders int `json:"cancelledOrders"`
}
