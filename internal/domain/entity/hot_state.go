package entity

// SessionHot - авторитетный снимок сессии в fast store на время игры.
// Хранится хешем session:{sid}:state; отдельные поля (например, timer_end_time)
// обновляются точечно без перезаписи всего снимка.
type SessionHot struct {
	SessionID                string `json:"session_id" redis:"session_id"`
	QuizID                   string `json:"quiz_id" redis:"quiz_id"`
	JoinCode                 string `json:"join_code" redis:"join_code"`
	HostID                   string `json:"host_id" redis:"host_id"`
	State                    string `json:"state" redis:"state"`
	QuizType                 string `json:"quiz_type" redis:"quiz_type"`
	TotalQuestions           int    `json:"total_questions" redis:"total_questions"`
	CurrentQuestionIndex     int    `json:"current_question_index" redis:"current_question_index"`
	CurrentQuestionID        string `json:"current_question_id" redis:"current_question_id"`
	CurrentQuestionStartTime int64  `json:"current_question_start_time" redis:"current_question_start_time"`
	TimerEndTime             int64  `json:"timer_end_time" redis:"timer_end_time"`
	ParticipantCount         int    `json:"participant_count" redis:"participant_count"`
	EliminatedCount          int    `json:"eliminated_count" redis:"eliminated_count"`
	AllowLateJoiners         bool   `json:"allow_late_joiners" redis:"allow_late_joiners"`
	SkipRevealPhase          bool   `json:"skip_reveal_phase" redis:"skip_reveal_phase"`
	AutoAdvance              bool   `json:"auto_advance" redis:"auto_advance"`
}

// ParticipantHot - горячая запись участника (participant:{pid}:session,
// TTL 5 минут, обновляется при каждой активности). Её истечение и есть
// окно переподключения.
type ParticipantHot struct {
	ParticipantID     string `json:"participant_id" redis:"participant_id"`
	SessionID         string `json:"session_id" redis:"session_id"`
	Nickname          string `json:"nickname" redis:"nickname"`
	IP                string `json:"ip" redis:"ip"`
	TotalScore        int    `json:"total_score" redis:"total_score"`
	TotalTimeMs       int64  `json:"total_time_ms" redis:"total_time_ms"`
	StreakCount       int    `json:"streak_count" redis:"streak_count"`
	LastQuestionScore int    `json:"last_question_score" redis:"last_question_score"`
	IsActive          bool   `json:"is_active" redis:"is_active"`
	IsEliminated      bool   `json:"is_eliminated" redis:"is_eliminated"`
	IsSpectator       bool   `json:"is_spectator" redis:"is_spectator"`
	IsBanned          bool   `json:"is_banned" redis:"is_banned"`
	SocketID          string `json:"socket_id" redis:"socket_id"`
}

// CanSubmit проверяет, допускается ли горячая запись к отправке ответов
func (p *ParticipantHot) CanSubmit() bool {
	return p.IsActive && !p.IsEliminated && !p.IsSpectator && !p.IsBanned
}

// CompositeScore возвращает счет для zset лидерборда:
// totalScore - totalTimeMs/1e9. Очки доминируют; при равенстве очков меньшее
// суммарное время дает больший композитный счет.
func (p *ParticipantHot) CompositeScore() float64 {
	return float64(p.TotalScore) - float64(p.TotalTimeMs)/1e9
}
