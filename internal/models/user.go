package models

import "time"

// User is owned by the account service; this backend only needs the columns
// that show up in conversation previews and FK constraints.
type User struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Username  string    `gorm:"uniqueIndex;type:text" json:"username"`
	Email     string    `gorm:"uniqueIndex;type:text" json:"email"`
	Name      string    `gorm:"type:text" json:"name"`
	Image     string    `gorm:"type:text" json:"image"`
	CreatedAt time.Time `json:"createdAt"`
}
