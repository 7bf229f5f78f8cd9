package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BidStatus string // Статус предложения

const (
	PendingBid   BidStatus = "pending"   // Предложение ждет решения покупателя
	AcceptedBid  BidStatus = "accepted"  // Предложение принято
	RejectedBid  BidStatus = "rejected"  // Принято другое предложение
	WithdrawnBid BidStatus = "withdrawn" // Предложение отозвано пунктом сбора
)

// Valid проверяет, что статус известен.
func (s BidStatus) Valid() bool {
	switch s {
	case PendingBid, AcceptedBid, RejectedBid, WithdrawnBid:
		return true
	}
	return false
}

// IsTerminal - из принятого, отклоненного и отозванного предложения переходов нет.
func (s BidStatus) IsTerminal() bool {
	return s == AcceptedBid || s == RejectedBid || s == WithdrawnBid
}

// Bid представляет модель предложения пункта сбора.
type Bid struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	CenterID  string          `json:"centerId"`
	Price     decimal.Decimal `json:"price"`
	Notes     string          `json:"notes"`
	ImageRefs []string        `json:"imageRefs"`
	Status    BidStatus       `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// BidRequest представляет структуру запроса для создания предложения.
type BidRequest struct {
	Price     decimal.Decimal `json:"price"`
	Notes     string          `json:"notes" validate:"max=2000"`
	ImageRefs []string        `json:"imageRefs" validate:"max=10,dive,required"`
	Images    []ImageUpload   `json:"images" validate:"max=10,dive"`
}

// ImageUpload - изображение, которое нужно загрузить в хранилище перед созданием предложения.
type ImageUpload struct {
	Data []byte `json:"data" validate:"required"`
}

// BidUpdate - изменяемые поля предложения в статусе pending.
type BidUpdate struct {
	Price     *decimal.Decimal `json:"price,omitempty"`
	Notes     *string          `json:"notes,omitempty" validate:"omitempty,max=2000"`
	ImageRefs []string         `json:"imageRefs,omitempty" validate:"omitempty,max=10,dive,required"`
	Images    []ImageUpload    `json:"images,omitempty" validate:"omitempty,max=10,dive"`
}

// AcceptResult - результат принятия предложения.
type AcceptResult struct {
	Order        Order `json:"order"`
	AcceptedBid  Bid   `json:"acceptedBid"`
	RejectedBids []Bid `json:"rejectedBids"`
}

// CenterStats - сводка по предложениям пункта сбора.
type CenterStats struct {
	TotalBids     int             `json:"totalBids"`
	PendingBids   int             `json:"pendingBids"`
	AcceptedBids  int             `json:"acceptedBids"`
	TotalEarnings decimal.Decimal `json:"totalEarnings"`
	SuccessRate   float64         `json:"successRate"`
	RecentBids    []Bid           `json:"recentBids"`
}
