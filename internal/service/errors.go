package service

import "errors"

// 인가/로스터 오류는 행위자 연결에만 전달되고 절대 브로드캐스트되지 않는다.
var (
	// ErrUnauthorized 호스트 전용 동작을 호스트가 아닌 사용자가 시도
	ErrUnauthorized = errors.New("only the host may perform this action")

	// ErrInvalidTransition 상태 전제 조건 불충족 (예: pending이 아닌 미팅 start)
	ErrInvalidTransition = errors.New("invalid meeting status transition")

	// ErrMeetingNotFound 공개 코드나 링크 토큰으로 미팅을 찾지 못함
	ErrMeetingNotFound = errors.New("meeting not found")

	// ErrNotAMember 활성 참가자 항목이 없는 사용자의 leave
	ErrNotAMember = errors.New("not an active member of this meeting")

	// ErrParticipantNotFound 권한 변경 대상이 활성 멤버가 아님
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrHostCannotLeave 호스트는 leave 대신 end를 사용해야 함
	ErrHostCannotLeave = errors.New("host cannot leave; end the meeting instead")

	// ErrWrongPassword 수동 join 시 비밀번호 불일치
	ErrWrongPassword = errors.New("wrong meeting password")

	// ErrChatDisabled 미팅 전체 채팅이 꺼져 있음 (호스트 포함 전원 차단)
	ErrChatDisabled = errors.New("chat is disabled for this meeting")

	// ErrUserMuted 개별 참가자의 채팅이 차단됨 (호스트는 면제)
	ErrUserMuted = errors.New("you are muted in this meeting")

	// ErrEditNotAllowed 편집 권한 강제 모드에서 VIEW 참가자의 드로잉 시도
	ErrEditNotAllowed = errors.New("edit permission required")

	// ErrCanvasNotFound 저장된 캔버스 문서를 찾지 못함
	ErrCanvasNotFound = errors.New("canvas not found")
)
