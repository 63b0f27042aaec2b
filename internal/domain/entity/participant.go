package entity

import (
	"time"
)

// Participant представляет игрока внутри одной сессии. Никнейм уникален в
// пределах сессии. Запись живёт до истечения срока хранения сессии; горячая
// копия в fast store имеет TTL 5 минут и обновляется при каждой активности.
type Participant struct {
	ID              string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID       string    `gorm:"type:uuid;not null;index:idx_participants_session;index:idx_participants_session_nickname,unique,composite:nick" json:"session_id"`
	Nickname        string    `gorm:"size:50;not null;index:idx_participants_session_nickname,unique,composite:nick" json:"nickname"`
	IP              string    `gorm:"size:45" json:"ip,omitempty"`
	IsActive        bool      `gorm:"not null;default:true" json:"is_active"`
	IsEliminated    bool      `gorm:"not null;default:false" json:"is_eliminated"`
	IsSpectator     bool      `gorm:"not null;default:false" json:"is_spectator"`
	IsBanned        bool      `gorm:"not null;default:false" json:"is_banned"`
	TotalScore      int       `gorm:"not null;default:0" json:"total_score"`
	TotalTimeMs     int64     `gorm:"not null;default:0" json:"total_time_ms"`
	StreakCount     int       `gorm:"not null;default:0" json:"streak_count"`
	SocketID        string    `gorm:"size:64" json:"socket_id,omitempty"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	JoinedAt        time.Time `json:"joined_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Participant) TableName() string {
	return "participants"
}

// CanSubmit проверяет, допускается ли участник к отправке ответов
func (p *Participant) CanSubmit() bool {
	return p.IsActive && !p.IsEliminated && !p.IsSpectator && !p.IsBanned
}
