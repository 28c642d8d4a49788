package domain

import "time"

// CallerKey identifica um bucket de taxa: quem chama e a classe da categoria
// pedida. Um chamador que abusa de scripts não esgota a cota de leituras.
type CallerKey struct {
	Caller string
	Class  Class
}

func (k CallerKey) String() string {
	return k.Caller + "/" + string(k.Class)
}

// Limiter decide se o chamador pode seguir agora; quando não pode, informa
// quanto falta para a próxima ficha (0 = desconhecido).
//
// A camada de infra usa token bucket (golang.org/x/time/rate).
type Limiter interface {
	Allow() (bool, time.Duration)
}

// LimiterStore obtém o limiter de uma chave. nil significa sem limite.
type LimiterStore interface {
	Get(CallerKey) Limiter
}
