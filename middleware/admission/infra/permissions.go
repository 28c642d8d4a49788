package infra

import (
	"context"
	"strings"

	"automation-gateway/middleware/admission/domain"
)

// StaticPermissions é um oráculo de permissão por listas fixas.
//
// Deny tem precedência; categorias fora das duas listas ficam Unknown.
type StaticPermissions struct {
	Allow map[domain.Category]bool
	Deny  map[domain.Category]bool
	// DeniedTargets bloqueia alvos por prefixo, em qualquer categoria.
	DeniedTargets []string
}

func (s StaticPermissions) Check(_ context.Context, kind domain.Category, target string) domain.Permission {
	for _, p := range s.DeniedTargets {
		if p != "" && strings.HasPrefix(target, p) {
			return domain.PermissionDenied
		}
	}
	if s.Deny[kind] {
		return domain.PermissionDenied
	}
	if s.Allow[kind] {
		return domain.PermissionGranted
	}
	return domain.PermissionUnknown
}
