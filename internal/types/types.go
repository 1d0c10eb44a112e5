package types

import "time"

// Embedding is a face feature vector produced by the worker from a single still image.
// Its length is fixed by whatever model the worker runs.
type Embedding []float64

// Float32 converts the embedding for a pgvector column. The conversion is lossy, so the
// result is only good for ranking, never for handing back to the worker.
func (e Embedding) Float32() []float32 {
	out := make([]float32, len(e))
	for i, v := range e {
		out[i] = float32(v)
	}
	return out
}

// UserType distinguishes people from organizations. Organizations sign their messages.
type UserType string

const (
	Individual   UserType = "INDIVIDUAL"
	Organization UserType = "ORGANIZATION"
)

// Valid reports whether t is one of the known user types.
func (t UserType) Valid() bool {
	return t == Individual || t == Organization
}

// User is an account as stored in the database.
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Name         string
	Type         UserType
	Signature    string
	HasFace      bool // true when a face embedding is enrolled
	CreatedAt    time.Time
}

// NewUser holds the fields needed to create an account.
type NewUser struct {
	Username     string
	PasswordHash string
	Name         string
	Type         UserType
	Signature    string
	Embedding    Embedding // optional
}

// Participant is the sender or receiver side of a message.
type Participant struct {
	ID        int
	Name      string
	Type      UserType
	Signature string
}

// Message is a stored message joined with both participants.
type Message struct {
	ID                  int64
	Subject             string
	Body                string
	IsFaceVerified      bool
	IsDigitallyVerified bool
	Timestamp           time.Time
	From                Participant
	To                  Participant
}

// NewMessage holds the fields needed to create a message.
type NewMessage struct {
	SenderID            int
	ReceiverID          int
	Subject             string
	Body                string
	IsFaceVerified      bool
	IsDigitallyVerified bool
}

// SimilarUser is an enrolled user ranked by cosine distance to a probe embedding.
type SimilarUser struct {
	ID       int
	Username string
	Name     string
	Distance float64
}
