package signal

import (
	"encoding/json"
	"errors"
	"sync"
)

// ErrDropped 필수 필드가 빠진 릴레이 메시지 (조용히 폐기, 클라이언트에 알리지 않음)
var ErrDropped = errors.New("signaling message dropped")

// 릴레이되는 협상 메시지 종류
const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "ice_candidate"
)

// Envelope 두 참가자 사이를 오가는 연결 협상 메시지.
// 릴레이는 내용을 해석하지 않고 To의 개인 방으로 그대로 전달한다.
type Envelope struct {
	Kind    string          `json:"type"`
	From    int64           `json:"from"`
	To      int64           `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate 릴레이 가능한 메시지인지 확인. To나 Payload가 없으면 ErrDropped.
func (e *Envelope) Validate() error {
	if e.To == 0 || len(e.Payload) == 0 {
		return ErrDropped
	}
	return nil
}

// Action 동시 offer 충돌 시 수신 측이 취할 행동
type Action int

const (
	// ActionAccept 충돌 없음: 들어온 offer를 그대로 수락
	ActionAccept Action = iota
	// ActionRollback polite 피어: 자신의 보류 중인 offer를 철회하고 수락
	ActionRollback
	// ActionIgnore impolite 피어: 들어온 offer를 무시 (자신의 offer가 수락될 것)
	ActionIgnore
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionRollback:
		return "rollback"
	case ActionIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// Negotiator 피어 쌍 하나의 offer 충돌 해소 상태 기계.
// 조정자 없이 두 피어가 같은 규칙을 적용해 충돌 쌍마다 정확히 하나의
// offer만 살아남는다: 사전순으로 작은 userId가 polite 역할을 맡는다.
// 릴레이 자체는 이 로직을 수행하지 않으며, 피어 측에서 실행된다.
type Negotiator struct {
	mu          sync.Mutex
	selfID      string
	peerID      string
	makingOffer bool
}

// NewNegotiator 피어 쌍에 대한 협상기 생성
func NewNegotiator(selfID, peerID string) *Negotiator {
	return &Negotiator{selfID: selfID, peerID: peerID}
}

// Polite 이 피어가 polite 역할인지 (사전순으로 작은 id가 polite)
func (n *Negotiator) Polite() bool {
	return n.selfID < n.peerID
}

// MarkLocalOffer 로컬 offer 전송 시작을 기록
func (n *Negotiator) MarkLocalOffer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.makingOffer = true
}

// SettleLocalOffer 로컬 offer가 응답을 받았거나 철회됨
func (n *Negotiator) SettleLocalOffer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.makingOffer = false
}

// HandleRemoteOffer 원격 offer 수신 시 취할 행동 결정.
// 보류 중인 로컬 offer와 충돌하면 polite 피어는 롤백 후 수락,
// impolite 피어는 무시한다.
func (n *Negotiator) HandleRemoteOffer() Action {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.makingOffer {
		return ActionAccept
	}

	if n.Polite() {
		n.makingOffer = false
		return ActionRollback
	}
	return ActionIgnore
}
