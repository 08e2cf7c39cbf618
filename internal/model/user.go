package model

import "time"

// User учитель или студент. Сущности расписания ссылаются на него только по ID
type User struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Username   string    `json:"username"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	IsTeacher  bool      `json:"is_teacher"`
	CreatedAt  time.Time `json:"created_at"`
}

// DisplayName имя для уведомлений
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		if u.LastName != "" {
			return u.FirstName + " " + u.LastName
		}
		return u.FirstName
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "user"
}
