package domain

import "context"

type Permission uint8

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// PermissionOracle decide se uma categoria de operação é permitida sobre um alvo.
//
// É consultado pelo chamador antes da admissão, nunca pelo núcleo de admissão.
type PermissionOracle interface {
	Check(ctx context.Context, kind Category, target string) Permission
}
