package models

import "time"

// Message представляет сообщение в переписке по заказу.
type Message struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"orderId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Seq        int64     `json:"seq"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageRequest представляет структуру запроса для отправки сообщения.
type MessageRequest struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Content    string `json:"content" validate:"required,max=4000"`
}

// Thread - переписка по заказу в списке чатов пользователя.
type Thread struct {
	OrderID      string      `json:"orderId"`
	OrderStatus  OrderStatus `json:"orderStatus"`
	Quantity     int         `json:"quantity"`
	Location     string      `json:"deliveryLocation"`
	Participants []string    `json:"participants"`
	LastMessage  *Message    `json:"lastMessage,omitempty"`
}
