package api

import (
	"time"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/samber/lo"
)

// isoMillis matches JavaScript's Date.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

type userResponse struct {
	ID        int            `json:"id"`
	Username  string         `json:"username"`
	Name      string         `json:"name"`
	Type      types.UserType `json:"type"`
	Signature *string        `json:"signature"`
	HasFace   bool           `json:"hasFaceAuth"`
	CreatedAt string         `json:"createdAt,omitempty"`
}

func newUserResponse(u types.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.Name,
		Type:      u.Type,
		Signature: lo.EmptyableToPtr(u.Signature),
		HasFace:   u.HasFace,
		CreatedAt: formatTime(u.CreatedAt),
	}
}

type participantResponse struct {
	ID        int            `json:"id"`
	Name      string         `json:"name"`
	Type      types.UserType `json:"type"`
	Signature string         `json:"signature,omitempty"`
}

type messageResponse struct {
	ID                  int64               `json:"id"`
	From                participantResponse `json:"from"`
	To                  participantResponse `json:"to"`
	Subject             string              `json:"subject"`
	Message             string              `json:"message"`
	IsFaceVerified      bool                `json:"isFaceVerified"`
	IsDigitallyVerified bool                `json:"isDigitallyVerified"`
	Timestamp           string              `json:"timestamp"`
}

func newMessageResponse(m types.Message, _ int) messageResponse {
	return messageResponse{
		ID: m.ID,
		From: participantResponse{
			ID:        m.From.ID,
			Name:      m.From.Name,
			Type:      m.From.Type,
			Signature: m.From.Signature,
		},
		// The receiver's signature is never shown.
		To: participantResponse{
			ID:   m.To.ID,
			Name: m.To.Name,
			Type: m.To.Type,
		},
		Subject:             m.Subject,
		Message:             m.Body,
		IsFaceVerified:      m.IsFaceVerified,
		IsDigitallyVerified: m.IsDigitallyVerified,
		Timestamp:           formatTime(m.Timestamp),
	}
}

func newMessageList(msgs []types.Message) []messageResponse {
	return lo.Map(msgs, newMessageResponse)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(isoMillis)
}
