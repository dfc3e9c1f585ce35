package signal

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{
			name: "valid offer",
			env:  Envelope{Kind: KindOffer, From: 1, To: 2, Payload: json.RawMessage(`{"sdp":"..."}`)},
		},
		{
			name:    "missing target",
			env:     Envelope{Kind: KindAnswer, From: 1, Payload: json.RawMessage(`{"sdp":"..."}`)},
			wantErr: true,
		},
		{
			name:    "missing payload",
			env:     Envelope{Kind: KindCandidate, From: 1, To: 2},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.wantErr && !errors.Is(err, ErrDropped) {
				t.Errorf("Validate() = %v, want ErrDropped", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestPoliteRole(t *testing.T) {
	alice := NewNegotiator("alice", "bob")
	bob := NewNegotiator("bob", "alice")

	if !alice.Polite() {
		t.Error("alice (smaller id) should be the polite peer")
	}
	if bob.Polite() {
		t.Error("bob (larger id) should be the impolite peer")
	}
}

func TestNoCollisionAccepts(t *testing.T) {
	n := NewNegotiator("bob", "alice")
	if got := n.HandleRemoteOffer(); got != ActionAccept {
		t.Errorf("remote offer without pending local offer = %v, want accept", got)
	}
}

// 동시 offer 시나리오: alice와 bob이 서로에게 동시에 offer를 보낸다.
// alice < bob이므로 alice가 롤백 후 bob의 offer를 수락하고, bob은
// alice의 offer를 무시한다. 쌍 전체에서 answer는 정확히 하나.
func TestOfferCollision(t *testing.T) {
	alice := NewNegotiator("alice", "bob")
	bob := NewNegotiator("bob", "alice")

	alice.MarkLocalOffer()
	bob.MarkLocalOffer()

	answers := 0
	if got := alice.HandleRemoteOffer(); got != ActionRollback {
		t.Errorf("alice action = %v, want rollback", got)
	} else {
		answers++ // 롤백 후 수락하면 answer 생성
	}
	if got := bob.HandleRemoteOffer(); got != ActionIgnore {
		t.Errorf("bob action = %v, want ignore", got)
	}

	if answers != 1 {
		t.Fatalf("answers produced = %d, want exactly 1", answers)
	}

	// alice의 보류 offer는 철회되어 이후 offer는 다시 수락된다
	if got := alice.HandleRemoteOffer(); got != ActionAccept {
		t.Errorf("alice action after rollback = %v, want accept", got)
	}

	// bob의 offer가 응답을 받으면 정상 상태로 복귀
	bob.SettleLocalOffer()
	if got := bob.HandleRemoteOffer(); got != ActionAccept {
		t.Errorf("bob action after settle = %v, want accept", got)
	}
}
