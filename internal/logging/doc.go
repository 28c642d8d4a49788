// Package logging monta o *slog.Logger do gateway a partir da seção logging
// da configuração.
package logging
