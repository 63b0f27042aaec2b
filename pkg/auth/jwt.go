package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Роли соединений. Значение попадает в claim "role" и определяет, какие
// каналы получит соединение и какие сообщения от него принимаются.
const (
	RoleParticipant = "participant"
	RoleController  = "controller"
	RoleBigScreen   = "bigscreen"
)

// Claims - полезная нагрузка токена подключения. Три формы:
//
//	participant: {role, sessionId, participantId, nickname}
//	controller:  {role, sessionId}
//	bigscreen:   {role, sessionId}
type Claims struct {
	Role          string `json:"role"`
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId,omitempty"`
	Nickname      string `json:"nickname,omitempty"`
	jwt.RegisteredClaims
}

// JWTService выпускает и проверяет токены подключения к WebSocket
type JWTService struct {
	secret []byte
	expiry time.Duration
}

// NewJWTService создает сервис JWT. Секрет обязателен.
func NewJWTService(secret string, expirationHrs int) (*JWTService, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	if expirationHrs <= 0 {
		expirationHrs = 24
	}
	return &JWTService{
		secret: []byte(secret),
		expiry: time.Duration(expirationHrs) * time.Hour,
	}, nil
}

// GenerateParticipantToken выпускает токен игрока
func (s *JWTService) GenerateParticipantToken(sessionID, participantID, nickname string) (string, error) {
	return s.sign(&Claims{
		Role:          RoleParticipant,
		SessionID:     sessionID,
		ParticipantID: participantID,
		Nickname:      nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "livequiz-api",
			Subject:   participantID,
		},
	})
}

// GenerateControllerToken выпускает токен пульта ведущего
func (s *JWTService) GenerateControllerToken(sessionID string) (string, error) {
	return s.sign(&Claims{
		Role:      RoleController,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "livequiz-api",
			Subject:   sessionID,
		},
	})
}

// GenerateBigScreenToken выпускает токен большого экрана
func (s *JWTService) GenerateBigScreenToken(sessionID string) (string, error) {
	return s.sign(&Claims{
		Role:      RoleBigScreen,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "livequiz-api",
			Subject:   sessionID,
		},
	})
}

func (s *JWTService) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		log.Printf("[JWT] Ошибка подписи токена (role=%s, session=%s): %v",
			claims.Role, claims.SessionID, err)
		return "", err
	}
	return tokenString, nil
}

// ParseToken проверяет подпись и срок действия токена подключения и
// валидирует форму claims для заявленной роли
func (s *JWTService) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) {
			switch {
			case ve.Errors&jwt.ValidationErrorMalformed != 0:
				return nil, errors.New("token is malformed")
			case ve.Errors&jwt.ValidationErrorExpired != 0:
				return nil, errors.New("token is expired")
			case ve.Errors&jwt.ValidationErrorSignatureInvalid != 0:
				return nil, errors.New("signature is invalid")
			}
		}
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	if claims.SessionID == "" {
		return nil, errors.New("token missing sessionId")
	}
	switch claims.Role {
	case RoleParticipant:
		if claims.ParticipantID == "" {
			return nil, errors.New("participant token missing participantId")
		}
	case RoleController, RoleBigScreen:
		// Достаточно sessionId
	default:
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}
