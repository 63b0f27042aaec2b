package websocket

// Имена событий сервер -> клиент. Имена нормативные: клиенты всех трех
// ролей завязаны на эти строки.
const (
	EventAuthenticated            = "authenticated"
	EventAuthError                = "auth_error"
	EventLobbyState               = "lobby_state"
	EventParticipantJoined        = "participant_joined"
	EventQuizStarted              = "quiz_started"
	EventQuestionStarted          = "question_started"
	EventTimerTick                = "timer_tick"
	EventTimerPaused              = "timer_paused"
	EventTimerResumed             = "timer_resumed"
	EventTimerReset               = "timer_reset"
	EventQuestionSkipped          = "question_skipped"
	EventQuestionVoided           = "question_voided"
	EventRevealAnswers            = "reveal_answers"
	EventLeaderboardUpdated       = "leaderboard_updated"
	EventAnswerAccepted           = "answer_accepted"
	EventAnswerRejected           = "answer_rejected"
	EventAnswerCountUpdated       = "answer_count_updated"
	EventEliminated               = "eliminated"
	EventParticipantCountUpdated  = "participant_count_updated"
	EventParticipantStatusChanged = "participant_status_changed"
	EventParticipantLeft          = "participant_left"
	EventParticipantKicked        = "participant_kicked"
	EventParticipantBanned        = "participant_banned"
	EventParticipantFocusChanged  = "participant_focus_changed"
	EventKicked                   = "kicked"
	EventBanned                   = "banned"
	EventSessionRecovered         = "session_recovered"
	EventRecoveryFailed           = "recovery_failed"
	EventQuizEnded                = "quiz_ended"
	EventSystemMetrics            = "system_metrics"
	EventLateJoinersUpdated       = "late_joiners_updated"
	EventError                    = "error"
)

// Имена сообщений клиент -> сервер.
const (
	ActionSubmitAnswer      = "submit_answer"
	ActionReconnectSession  = "reconnect_session"
	ActionFocusLost         = "focus_lost"
	ActionFocusRegained     = "focus_regained"
	ActionStartQuiz         = "start_quiz"
	ActionNextQuestion      = "next_question"
	ActionEndQuiz           = "end_quiz"
	ActionSkipQuestion      = "skip_question"
	ActionVoidQuestion      = "void_question"
	ActionPauseTimer        = "pause_timer"
	ActionResumeTimer       = "resume_timer"
	ActionResetTimer        = "reset_timer"
	ActionKickParticipant   = "kick_participant"
	ActionBanParticipant    = "ban_participant"
	ActionToggleLateJoiners = "toggle_late_joiners"
)

// Роли подключений. Роль фиксируется при аутентификации соединения и
// определяет набор каналов, на которые подписывается соединение.
const (
	RoleParticipant = "participant"
	RoleController  = "controller"
	RoleBigScreen   = "bigscreen"
)

// Event представляет структуру WebSocket-сообщения
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
