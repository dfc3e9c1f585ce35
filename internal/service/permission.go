package service

import (
	"drawmeet-backend/internal/model"
)

// 채팅/편집 허용 여부를 판정하는 권한 게이트.
// 순수 판정 함수로 분리되어 있어 저장소 없이 검증할 수 있다.

// CanChat 채팅 가능 여부 판정.
// 1. 미팅 전체 토글이 꺼져 있으면 호스트를 포함한 전원 차단 (ChatDisabled).
// 2. 호스트가 아니고 참가자 항목이 없거나 CanChat=false면 UserMuted.
// 3. 그 외 허용. 호스트 우회는 개인 음소거에만 적용되고 전체 토글에는 적용되지 않는다.
func CanChat(meeting *model.Meeting, participant *model.Participant, isHost bool) error {
	if !meeting.IsChatEnabled {
		return ErrChatDisabled
	}
	if isHost {
		return nil
	}
	if participant == nil || !participant.IsActive() {
		return ErrUserMuted
	}
	if participant.CanChat != nil && !*participant.CanChat {
		return ErrUserMuted
	}
	return nil
}

// CanEdit 드로잉 작업 수락 여부 판정.
// enforce=false면 모든 방 멤버의 작업을 수락한다 (기존 동작 유지).
// enforce=true면 EDIT 권한 또는 호스트만 허용한다.
func CanEdit(participant *model.Participant, isHost, enforce bool) error {
	if !enforce || isHost {
		return nil
	}
	if participant == nil || !participant.IsActive() {
		return ErrEditNotAllowed
	}
	if participant.Permission != model.PermissionEdit.String() {
		return ErrEditNotAllowed
	}
	return nil
}

// authorizeHostTransition 호스트 전용 전이의 명명된 인가 정책.
// 요청자 비교를 인라인 불리언 대신 한 곳에 모아 타입 있는 오류로 반환한다.
func authorizeHostTransition(meeting *model.Meeting, requesterID int64) error {
	if meeting.HostID != requesterID {
		return ErrUnauthorized
	}
	return nil
}
