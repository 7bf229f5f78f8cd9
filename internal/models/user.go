package models

// Role - роль пользователя, выданная внешним провайдером идентификации.
type Role string

const (
	Buyer  Role = "buyer"  // Покупатель, публикует заказы
	Center Role = "center" // Пункт сбора, делает предложения
)

// Valid проверяет, что роль известна.
func (r Role) Valid() bool {
	return r == Buyer || r == Center
}

// Actor - аутентифицированный участник, от имени которого выполняется операция.
type Actor struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// IsBuyer сообщает, действует ли участник как покупатель.
func (a Actor) IsBuyer() bool { return a.Role == Buyer }

// IsCenter сообщает, действует ли участник как пункт сбора.
func (a Actor) IsCenter() bool { return a.Role == Center }
