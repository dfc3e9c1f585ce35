package model

// MeetingStatus 미팅 상태
type MeetingStatus string

const (
	MeetingStatusPending MeetingStatus = "PENDING"
	MeetingStatusLive    MeetingStatus = "LIVE"
	MeetingStatusEnded   MeetingStatus = "ENDED"
)

func (s MeetingStatus) String() string {
	return string(s)
}

// Permission 참가자 편집 권한
type Permission string

const (
	PermissionView Permission = "VIEW"
	PermissionEdit Permission = "EDIT"
)

func (p Permission) String() string {
	return string(p)
}

// Valid 알려진 권한 값인지 확인
func (p Permission) Valid() bool {
	return p == PermissionView || p == PermissionEdit
}
