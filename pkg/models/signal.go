package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LingByte/LingMeet/pkg/constants"
	gonanoid "github.com/matoous/go-nanoid"
	"github.com/pion/webrtc/v3"
	"gorm.io/datatypes"
)

// SignalType discriminates the payload carried by a Signal
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
	SignalInvite       SignalType = "invite"
)

const signalIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var (
	ErrUnknownSignalType = errors.New("unknown signal type")
	ErrMalformedPayload  = errors.New("malformed signal payload")
)

func (t SignalType) Valid() bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalICECandidate, SignalInvite:
		return true
	}
	return false
}

// Signal is one immutable unit of rendezvous data, scoped to a room.
type Signal struct {
	ID        string         `json:"id" gorm:"column:id;primaryKey;size:32"`
	RoomID    string         `json:"room_id" gorm:"column:room_id;size:160;index:idx_signals_room_created,priority:1"`
	SenderID  string         `json:"sender_id" gorm:"column:sender_id;size:64;index"`
	Type      SignalType     `json:"type" gorm:"column:type;size:16"`
	Payload   datatypes.JSON `json:"payload" gorm:"column:payload"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;index:idx_signals_room_created,priority:2"`
}

func (Signal) TableName() string {
	return constants.TableSignals
}

// Payload is the tagged union carried in Signal.Payload.
type Payload interface {
	Kind() SignalType
	validate() error
}

// OfferPayload carries the offerer's session description.
type OfferPayload struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

// AnswerPayload carries the answerer's session description.
type AnswerPayload struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

// CandidatePayload carries one trickled ICE candidate.
type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// InvitePayload tells PartnerID's owner who picked them.
type InvitePayload struct {
	PartnerID string `json:"partner_id"`
}

func (OfferPayload) Kind() SignalType     { return SignalOffer }
func (AnswerPayload) Kind() SignalType    { return SignalAnswer }
func (CandidatePayload) Kind() SignalType { return SignalICECandidate }
func (InvitePayload) Kind() SignalType    { return SignalInvite }

func (p OfferPayload) validate() error {
	return validateSDP(p.SDP, webrtc.SDPTypeOffer)
}

func (p AnswerPayload) validate() error {
	return validateSDP(p.SDP, webrtc.SDPTypeAnswer)
}

func (p CandidatePayload) validate() error {
	if p.Candidate.Candidate == "" {
		return fmt.Errorf("%w: empty candidate", ErrMalformedPayload)
	}
	return nil
}

func (p InvitePayload) validate() error {
	if p.PartnerID == "" {
		return fmt.Errorf("%w: empty partner_id", ErrMalformedPayload)
	}
	return nil
}

func validateSDP(desc webrtc.SessionDescription, want webrtc.SDPType) error {
	if desc.SDP == "" {
		return fmt.Errorf("%w: empty sdp", ErrMalformedPayload)
	}
	if desc.Type != want {
		return fmt.Errorf("%w: sdp type %s, want %s", ErrMalformedPayload, desc.Type, want)
	}
	return nil
}

// NewSignalID returns a random lowercase id.
func NewSignalID() (string, error) {
	return gonanoid.Generate(signalIDAlphabet, constants.SignalIDLength)
}

// NewSignal builds a row for p. CreatedAt is left for the store to stamp.
func NewSignal(roomID, senderID string, p Payload) (*Signal, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	id, err := NewSignalID()
	if err != nil {
		return nil, err
	}
	return &Signal{
		ID:       id,
		RoomID:   roomID,
		SenderID: senderID,
		Type:     p.Kind(),
		Payload:  datatypes.JSON(raw),
	}, nil
}

// Decode parses Payload according to Type.
func (s *Signal) Decode() (Payload, error) {
	var p Payload
	switch s.Type {
	case SignalOffer:
		var v OfferPayload
		if err := json.Unmarshal(s.Payload, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		p = v
	case SignalAnswer:
		var v AnswerPayload
		if err := json.Unmarshal(s.Payload, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		p = v
	case SignalICECandidate:
		var v CandidatePayload
		if err := json.Unmarshal(s.Payload, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		p = v
	case SignalInvite:
		var v InvitePayload
		if err := json.Unmarshal(s.Payload, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignalType, s.Type)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}
